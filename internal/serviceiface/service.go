package serviceiface

// Service is a long-running component registered with the app manager from services.yaml.
// Start must not block; Stop releases whatever Start acquired.
type Service interface {
	Name() string
	Start() error
	Stop() error
}
