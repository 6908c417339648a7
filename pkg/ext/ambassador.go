package ext

import (
	"io"
	"os"
	"time"
)

var (
	DefaultAmbassador = &ambassador{}
)

// Ambassador the ambassador to the outside "world". Wraps methods that touch the filesystem and hence make the code that
// use them very hard to test.
type Ambassador interface {
	Open(name string) (io.ReadCloser, error)
	ModTime(name string) (time.Time, error)
}

type ambassador struct {
}

func (a *ambassador) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (a *ambassador) ModTime(name string) (time.Time, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
