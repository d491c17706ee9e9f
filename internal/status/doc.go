// Package status serves the agent's health and stats endpoints.
package status
