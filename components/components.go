// Package components defines the ECS components of the particle registry.
package components
