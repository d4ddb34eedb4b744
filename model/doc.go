// Package model defines the minimal streaming generation interface a node
// execution backend drives, plus a deterministic MockModel for tests and
// demos. Provider adapters live in sub-packages (openai, anthropic).
package model
