package health

import (
	"net/http"
	"time"

	"github.com/Vasu1712/gatherhub/internal/api/web"
)

// Rooms reports the rooms with at least one member and the broadcasts the
// hub had to discard.
type Rooms interface {
	Rooms() []string
	Dropped() int64
}

// Sessions reports the number of open sockets.
type Sessions interface {
	Sessions() int64
}

// Deliveries reports broadcasts that never reached the fabric.
type Deliveries interface {
	Published() int64
	Missed() int64
}

// Fabric reports how often the cross-instance subscription was lost.
type Fabric interface {
	Disconnects() int64
}

type HealthHandler struct {
	Rooms      Rooms
	Sessions   Sessions
	Deliveries Deliveries
	Fabric     Fabric
	Started    time.Time
}

type status struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Rooms     int    `json:"rooms"`
	Sessions  int64  `json:"sessions"`
	Published int64  `json:"broadcasts_published"`
	Missed    int64  `json:"broadcasts_missed"`
	Dropped   int64  `json:"broadcasts_dropped"`
	Lost      int64  `json:"fabric_disconnects"`
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, http.StatusOK, status{
		Status:    "ok",
		Uptime:    time.Since(h.Started).Round(time.Second).String(),
		Rooms:     len(h.Rooms.Rooms()),
		Sessions:  h.Sessions.Sessions(),
		Published: h.Deliveries.Published(),
		Missed:    h.Deliveries.Missed(),
		Dropped:   h.Rooms.Dropped(),
		Lost:      h.Fabric.Disconnects(),
	})
}
