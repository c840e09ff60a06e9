// Package async provides a minimal Future primitive for fire-and-forget
// work. The webhook path uses it to dispatch user notifications without
// blocking, or ever failing, the provider acknowledgment.
package async
