// Package finalizer closes resources in reverse order of creation.
package finalizer

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Finalizer collects resources for cleanup.
type Finalizer struct {
	lk        sync.Mutex
	resources []io.Closer
}

// NewFinalizer returns a new Finalizer.
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Add adds closers to the finalizer.
func (f *Finalizer) Add(cs ...io.Closer) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.resources = append(f.resources, cs...)
}

// AddFn adds a func to the finalizer.
func (f *Finalizer) AddFn(fn func() error) {
	f.Add(closerFn(fn))
}

// Cleanup closes every resource, last added first, and returns err combined with any
// close errors.
func (f *Finalizer) Cleanup(err error) error {
	f.lk.Lock()
	defer f.lk.Unlock()

	var errs []string
	if err != nil {
		errs = append(errs, err.Error())
	}
	for i := len(f.resources) - 1; i >= 0; i-- {
		if cerr := f.resources[i].Close(); cerr != nil {
			errs = append(errs, cerr.Error())
		}
	}
	f.resources = nil
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 && err != nil {
		return err
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}

// Cleanupf runs Cleanup with err formatted by format. A nil err stays nil.
func (f *Finalizer) Cleanupf(format string, err error) error {
	if err == nil {
		return f.Cleanup(nil)
	}
	return f.Cleanup(fmt.Errorf(format, err))
}

type closerFn func() error

func (fn closerFn) Close() error {
	return fn()
}
