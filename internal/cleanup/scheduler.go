package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Scheduler removes staged media that outlived its run, e.g. after a crash
// between staging and removal
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(tempDir string, intervalMinutes, maxAgeHours int) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: time.Duration(intervalMinutes) * time.Minute,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval until Stop.
// A non-positive interval disables the periodic sweep.
func (s *Scheduler) Start() {
	log.Println("Running initial temp file cleanup...")
	s.Sweep(time.Now())

	if s.interval <= 0 {
		close(s.done)
		log.Println("Periodic cleanup disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.Sweep(now)
			case <-s.stopChan:
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %s, max age: %s)", s.interval, s.maxAge)
}

// Stop stops the cleanup scheduler and waits for a running sweep
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		log.Println("Cleanup scheduler stopped")
	})
}

// Sweep removes files older than maxAge, as of now, and then any emptied
// subdirectories. It returns the number of files and bytes removed.
func (s *Scheduler) Sweep(now time.Time) (int, int64) {
	var deletedCount int
	var deletedSize int64
	var dirs []string // subdirectories old enough to remove once emptied

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			if path != s.tempDir && now.Sub(info.ModTime()) > s.maxAge {
				dirs = append(dirs, path)
			}
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			return nil
		}

		size := info.Size()
		if err := os.Remove(path); err != nil {
			log.Printf("Failed to delete old file %s: %v", path, err)
			return nil
		}
		deletedCount++
		deletedSize += size
		log.Printf("Deleted old temp file: %s (age: %s, size: %dKB)",
			filepath.Base(path), age.Round(time.Minute), size/1024)
		return nil
	})
	if err != nil {
		log.Printf("Error during cleanup: %v", err)
	}

	// deepest first; os.Remove fails on non-empty directories
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i])
	}

	if deletedCount > 0 {
		log.Printf("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
	return deletedCount, deletedSize
}

// EnsureTempDirExists creates the temp directory if it doesn't exist
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}
