// File: cmd/cdpfleet/main_test.go
package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withStubs(t *testing.T, write func(string, []byte, os.FileMode) error) *int {
	t.Helper()
	code := -1
	osWriteFile = write
	osExit = func(c int) { code = c }
	t.Cleanup(func() {
		osWriteFile = os.WriteFile
		osExit = os.Exit
	})
	return &code
}

func TestHandlePanic(t *testing.T) {
	t.Run("panic is written to the log", func(t *testing.T) {
		var gotName string
		var gotData []byte
		code := withStubs(t, func(name string, data []byte, _ os.FileMode) error {
			gotName, gotData = name, data
			return nil
		})

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, panicLogFile, gotName)
		assert.Contains(t, string(gotData), "panic: boom")
		assert.Contains(t, string(gotData), "goroutine")
		assert.Equal(t, 2, *code)
	})

	t.Run("unwritable log still exits", func(t *testing.T) {
		code := withStubs(t, func(string, []byte, os.FileMode) error {
			return errors.New("read-only filesystem")
		})

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, 1, *code)
	})

	t.Run("no panic is a no-op", func(t *testing.T) {
		called := false
		code := withStubs(t, func(string, []byte, os.FileMode) error {
			called = true
			return nil
		})

		func() {
			defer handlePanic()
		}()

		assert.False(t, called)
		assert.Equal(t, -1, *code)
	})
}
