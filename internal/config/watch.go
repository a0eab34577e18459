package config

import (
	"context"
	"os"
	"time"
)

// WatchFloorPlan reloads the floor plan on change and calls onUpdate with the latest
// version. It performs an initial load before entering the watch loop. A plan that fails
// to load is reported to onError and skipped until the file changes again.
func WatchFloorPlan(ctx context.Context, path string, interval time.Duration, onUpdate func(*FloorPlan), onError func(error)) error {
	if path == "" {
		path = "configs/floor_plan.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	fp, err := LoadFloorPlan(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(fp)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				fp, err := LoadFloorPlan(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if onUpdate != nil {
					onUpdate(fp)
				}
			}
		}
	}()

	return nil
}
