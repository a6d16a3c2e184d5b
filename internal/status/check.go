package status

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/yilhu/DRID-modules/internal/hub"
)

// Check reports why snap should be considered unhealthy: the snapshot is
// older than maxAge, or a module has stopped. A nil error means healthy.
// maxAge of 0 skips the age check.
func Check(snap hub.Snapshot, now time.Time, maxAge time.Duration) error {
	var problems []string
	if maxAge > 0 {
		if d := now.Sub(snap.TakenAt); d > maxAge {
			problems = append(problems, fmt.Sprintf("snapshot is %s old (max %s)", d.Round(time.Second), maxAge))
		}
	}
	if stopped := snap.StoppedModules(); len(stopped) > 0 {
		slices.Sort(stopped)
		problems = append(problems, "stopped modules: "+strings.Join(stopped, ", "))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("unhealthy: %s", strings.Join(problems, "; "))
}
