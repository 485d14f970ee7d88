//go:build !unix

package engine

// fileLock is a no-op where flock is unavailable; the in-process mutex still serializes writers.
type fileLock struct{}

func acquireLock(path string, exclusive bool) (*fileLock, error) {
	return &fileLock{}, nil
}

func (l *fileLock) release() error { return nil }
