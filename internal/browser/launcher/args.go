package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// hardeningFlags suppress first-run UI and the automation infobar.
var hardeningFlags = []string{
	"--remote-allow-origins=*",
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-blink-features=AutomationControlled",
	"--disable-infobars",
}

// BuildArgs assembles the browser command line for one launch. profileDir and
// extensions must already be absolute.
func BuildArgs(opts Options, req Request, port int, profileDir string, extensions []string) []string {
	args := []string{
		"--user-data-dir=" + profileDir,
		fmt.Sprintf("--remote-debugging-port=%d", port),
	}
	args = append(args, hardeningFlags...)

	if len(extensions) > 0 {
		args = append(args, "--load-extension="+strings.Join(extensions, ","))
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	if req.WindowPosition != nil {
		args = append(args, "--window-position="+req.WindowPosition.String())
	}

	args = append(args, opts.ExtraFlags...)
	args = append(args, req.ExtraFlags...)
	return append(args, "about:blank")
}

// ExtensionPaths returns the absolute path of every subdirectory of dir,
// sorted by name. A missing or empty dir yields no extensions.
func ExtensionPaths(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read extensions dir %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		paths = append(paths, abs)
	}
	return paths, nil
}
