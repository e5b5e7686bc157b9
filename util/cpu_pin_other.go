//go:build !linux

package util

import "errors"

func PinTo(cpus ...int) error {
	return errors.New("cpu pinning is only supported on linux")
}
