package providers

import "context"

// Root context of the application
func ProvideApplicationContext() context.Context {
	return context.Background()
}
