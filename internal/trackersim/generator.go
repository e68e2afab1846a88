package trackersim

import (
	"math/rand/v2"
	"time"

	"github.com/okian/pitchside/internal/domain/model"
)

// Constants for battery simulation.
const (
	batteryStart     = 100
	batteryFloor     = 5
	batteryDrainMax  = 3
	recordingPercent = 60
	poorLinkPercent  = 10
)

var actions = []string{"tagging", "reviewing", "idle", "syncing"}

// tracker keeps the evolving state of one simulated device.
type tracker struct {
	userID  string
	seq     int64
	battery int
	rng     *rand.Rand
}

func newTracker(userID string, seed uint64) *tracker {
	return &tracker{
		userID:  userID,
		battery: batteryStart,
		rng:     rand.New(rand.NewPCG(seed, uint64(len(userID)))),
	}
}

// next produces the tracker's following broadcast. Sequence numbers start at
// one and grow by one per call.
func (t *tracker) next(now time.Time) *model.StatusBroadcast {
	t.seq++
	if t.battery > batteryFloor {
		t.battery -= t.rng.IntN(batteryDrainMax + 1)
		if t.battery < batteryFloor {
			t.battery = batteryFloor
		}
	}

	status := model.StatusActive
	if t.rng.IntN(100) < recordingPercent {
		status = model.StatusRecording
	}
	network := model.NetworkGood
	switch n := t.rng.IntN(100); {
	case n < poorLinkPercent:
		network = model.NetworkPoor
	case n < 50:
		network = model.NetworkExcellent
	}

	battery := t.battery
	seq := t.seq
	return &model.StatusBroadcast{
		UserID:         t.userID,
		Status:         status,
		Timestamp:      now.UTC(),
		Action:         actions[t.rng.IntN(len(actions))],
		BatteryLevel:   &battery,
		NetworkQuality: network,
		Seq:            &seq,
	}
}

// farewell turns b into the last broadcast of a tracker leaving the match.
func farewell(b *model.StatusBroadcast) *model.StatusBroadcast {
	b.Status = model.StatusInactive
	b.Action = "leaving"
	return b
}
