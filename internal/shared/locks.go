package shared

import "fmt"

// QRRegenerateLockKey builds the redis key guarding one factory-wide QR run.
func QRRegenerateLockKey(factory string) string {
	return fmt.Sprintf("khovattu:qr:%s:lock", factory)
}

// CountStatsVersionKey builds the redis key holding the stats cache version of a factory.
func CountStatsVersionKey(factory string) string {
	if factory == "" {
		factory = "_all"
	}
	return fmt.Sprintf("khovattu:counts:%s:version", factory)
}
