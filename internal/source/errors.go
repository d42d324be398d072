package source

import "errors"

var ErrIsDirectory = errors.New("input is a directory")
