package extension

import "time"

// Observer receives pipeline outcomes, typically to feed metrics
type Observer interface {
	ExtensionsDiscovered(count int)
	ExtensionLoaded(path string, err error)
	ExtensionExcluded(role string)
	ExtensionInitialized(role, name string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ExtensionsDiscovered(int)                                  {}
func (nopObserver) ExtensionLoaded(string, error)                             {}
func (nopObserver) ExtensionExcluded(string)                                  {}
func (nopObserver) ExtensionInitialized(string, string, time.Duration, error) {}
