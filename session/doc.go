// Package session houses the concrete implementation of core.SessionRegistry.
// The StreamSession struct and the registry interface live in the core package
// to centralize domain contracts; keeping only the implementation here
// prevents higher level packages (scheduler, controller) from depending on
// concrete storage.
package session
