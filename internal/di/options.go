package di

// CallbackURL is the absolute URL of the OAuth callback route.
type CallbackURL string

// DisableAuth replaces every authenticator with its NoOp variant.
type DisableAuth bool

// ConfigFile is the path of a YAML configuration file; empty means none.
type ConfigFile string

// UseSSM selects AWS Systems Manager Parameter Store for configuration.
type UseSSM bool

// Option is a function that configures the dependency injection container.
type Option func(*options)

func WithCallbackURL(url string) Option {
	return func(opts *options) {
		opts.callbackURL = CallbackURL(url)
	}
}

func WithDisableAuth(disable bool) Option {
	return func(opts *options) {
		opts.disableAuth = disable
	}
}

func WithConfigFile(path string) Option {
	return func(opts *options) {
		opts.configFile = ConfigFile(path)
	}
}

func WithSSM(enabled bool) Option {
	return func(opts *options) {
		opts.useSSM = enabled
	}
}

// withoutCore skips the core providers so tests can assemble a container
// from their own constructors.
func withoutCore() Option {
	return func(opts *options) {
		opts.skipCore = true
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    ProvideAuthorizer,
//	    ProvideBearerAuth,
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	callbackURL CallbackURL
	configFile  ConfigFile
	providers   []any
	disableAuth bool
	useSSM      bool
	skipCore    bool
}
