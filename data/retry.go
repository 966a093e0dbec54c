package data

import (
	"log/slog"
	"time"
)

// connectWithRetry calls connect until it succeeds or the attempts run out,
// sleeping delay between the calls. At least one attempt is made. The last
// error is returned.
func connectWithRetry(name string, attempts int, delay time.Duration, connect func() error) error {
	attempts = max(attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = connect(); err == nil {
			return nil
		}

		slog.Info("connection attempt failed",
			slog.String("target", name),
			slog.Int("attempt", attempt),
			slog.Int("attemptsLeft", attempts-attempt),
			slog.String("err", err.Error()),
		)

		if attempt < attempts {
			time.Sleep(delay)
		}
	}
	return err
}
