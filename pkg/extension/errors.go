package extension

import "errors"

var (
	// ErrDiscovery marks an inaccessible base path. Discovery logs it and
	// treats the base path as empty.
	ErrDiscovery = errors.New("extension discovery failed")

	// ErrManifest marks a missing or malformed manifest or metadata file
	ErrManifest = errors.New("invalid extension manifest")

	// ErrModuleLoad marks a declared entry module that could not be loaded
	ErrModuleLoad = errors.New("extension module load failed")

	// ErrInitialization marks an entry point that reported failure
	ErrInitialization = errors.New("extension initialization failed")

	// ErrConfiguration marks an unusable context or app handle for the role
	ErrConfiguration = errors.New("invalid extension configuration")
)
