package main

// shortID returns the first eight bytes of a cycle or order id for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
