// Package gatewaytest provides an in-memory gateway for exercising the sync
// client and engine over real HTTP.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marcus/punch/internal/models"
)

// Fault makes the next matching requests fail.
type Fault struct {
	// Method the fault applies to; empty matches every method.
	Method string
	// Path prefix the fault applies to; empty matches every request.
	Path string
	// Status returned to the client; defaults to 503.
	Status int
	// Times the fault fires before it is cleared. Zero means forever.
	Times int
	// Commit applies the mutation before failing, simulating a lost ack.
	Commit bool
}

// Gateway is a fake time-tracking gateway. Mutations are deduplicated by
// idempotency key, the same way the real gateway promises.
type Gateway struct {
	*httptest.Server

	mu          sync.Mutex
	punches     map[string]models.PunchRecord
	users       map[string]models.User
	geofences   map[string]models.Geofence
	departments map[string]models.Department
	seen        map[string]json.RawMessage
	keyCalls    map[string]int
	pathCalls   map[string]int
	faults      []*Fault
	nextID      int
	healthy     bool
	now         func() time.Time
}

// New starts a fake gateway. Callers must Close it.
func New() *Gateway {
	g := &Gateway{
		punches:     make(map[string]models.PunchRecord),
		users:       make(map[string]models.User),
		geofences:   make(map[string]models.Geofence),
		departments: make(map[string]models.Department),
		seen:        make(map[string]json.RawMessage),
		keyCalls:    make(map[string]int),
		pathCalls:   make(map[string]int),
		healthy:     true,
		now:         func() time.Time { return time.Now().UTC() },
	}
	g.Server = httptest.NewServer(http.HandlerFunc(g.serve))
	return g
}

// Inject queues a fault. Faults are consulted in order.
func (g *Gateway) Inject(f Fault) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = append(g.faults, &f)
}

// ClearFaults drops every pending fault.
func (g *Gateway) ClearFaults() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = nil
}

// SetHealthy controls the /healthz answer.
func (g *Gateway) SetHealthy(ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.healthy = ok
}

// KeyCalls returns how many requests carried the idempotency key.
func (g *Gateway) KeyCalls(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keyCalls[key]
}

// Calls returns how many requests hit method+path, e.g. "POST /v1/punches".
func (g *Gateway) Calls(route string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pathCalls[route]
}

// Punches returns the stored punches ordered by timestamp.
func (g *Gateway) Punches() []models.PunchRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.PunchRecord, 0, len(g.punches))
	for _, p := range g.punches {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// AddPunch stores a punch as if another device had uploaded it.
func (g *Gateway) AddPunch(p models.PunchRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.punches[p.ID] = p
}

// AddUser stores a user.
func (g *Gateway) AddUser(u models.User) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[u.ID] = u
}

// AddGeofence stores a geofence.
func (g *Gateway) AddGeofence(f models.Geofence) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.geofences[f.ID] = f
}

// AddDepartment stores a department.
func (g *Gateway) AddDepartment(d models.Department) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.departments[d.ID] = d
}

// User looks up a stored user.
func (g *Gateway) User(id string) (models.User, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[id]
	return u, ok
}

// Geofence looks up a stored geofence.
func (g *Gateway) Geofence(id string) (models.Geofence, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.geofences[id]
	return f, ok
}

// Department looks up a stored department.
func (g *Gateway) Department(id string) (models.Department, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.departments[id]
	return d, ok
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Header.Get("Idempotency-Key")

	g.mu.Lock()
	defer g.mu.Unlock()

	g.pathCalls[r.Method+" "+r.URL.Path]++
	if key != "" {
		g.keyCalls[key]++
	}

	if r.URL.Path == "/healthz" {
		if !g.healthy {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "maintenance")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	fault := g.takeFault(r.Method, r.URL.Path)
	if fault != nil && !fault.Commit {
		g.fail(w, fault)
		return
	}

	status, resp := g.route(r, key, body)
	if fault != nil {
		g.fail(w, fault)
		return
	}
	if status >= 400 {
		msg, _ := resp.(string)
		writeError(w, status, http.StatusText(status), msg)
		return
	}
	writeJSON(w, status, resp)
}

func (g *Gateway) takeFault(method, path string) *Fault {
	for i, f := range g.faults {
		if f.Method != "" && f.Method != method {
			continue
		}
		if f.Path != "" && !strings.HasPrefix(path, f.Path) {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				g.faults = append(g.faults[:i], g.faults[i+1:]...)
			}
		}
		return f
	}
	return nil
}

func (g *Gateway) fail(w http.ResponseWriter, f *Fault) {
	status := f.Status
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, "injected", "injected failure")
}

// route applies the request. Caller holds mu.
func (g *Gateway) route(r *http.Request, key string, body []byte) (int, any) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		return http.StatusNotFound, "no route"
	}
	collection := parts[1]
	id := ""
	if len(parts) == 3 {
		id = parts[2]
	}

	if r.Method == http.MethodGet {
		return g.list(r, collection)
	}
	if key == "" {
		return http.StatusBadRequest, "missing Idempotency-Key"
	}

	// Same key, same result
	if prev, ok := g.seen[key]; ok {
		if collection == "punches" && r.Method == http.MethodPost {
			var ack map[string]any
			json.Unmarshal(prev, &ack)
			ack["duplicate"] = true
			return http.StatusOK, ack
		}
		return http.StatusOK, prev
	}

	status, resp := g.mutate(r.Method, collection, id, body)
	if status < 400 {
		data, _ := json.Marshal(resp)
		g.seen[key] = data
	}
	return status, resp
}

func (g *Gateway) list(r *http.Request, collection string) (int, any) {
	switch collection {
	case "punches":
		var since time.Time
		if s := r.URL.Query().Get("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return http.StatusBadRequest, "bad since"
			}
			since = t
		}
		userID := r.URL.Query().Get("user_id")
		out := []models.PunchRecord{}
		for _, p := range g.punches {
			if p.Timestamp.Before(since) || (userID != "" && p.UserID != userID) {
				continue
			}
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
		return http.StatusOK, out
	case "users":
		out := []models.User{}
		for _, u := range g.users {
			if u.Active {
				out = append(out, u)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return http.StatusOK, out
	case "geofences":
		out := []models.Geofence{}
		for _, f := range g.geofences {
			out = append(out, f)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return http.StatusOK, out
	case "departments":
		out := []models.Department{}
		for _, d := range g.departments {
			out = append(out, d)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return http.StatusOK, out
	}
	return http.StatusNotFound, "unknown collection"
}

func (g *Gateway) mutate(method, collection, id string, body []byte) (int, any) {
	if method == http.MethodDelete {
		return g.remove(collection, id)
	}
	if method != http.MethodPost && method != http.MethodPut {
		return http.StatusMethodNotAllowed, method
	}

	switch collection {
	case "punches":
		var p models.PunchRecord
		if err := json.Unmarshal(body, &p); err != nil || !p.Type.Valid() || p.UserID == "" {
			return http.StatusUnprocessableEntity, "invalid punch"
		}
		if method == http.MethodPost {
			g.nextID++
			p.ID = fmt.Sprintf("srv-%d", g.nextID)
			p.ServerID = p.ID
			p.CreatedAt = g.now()
		} else {
			if _, ok := g.punches[id]; !ok {
				return http.StatusNotFound, "no such punch"
			}
			p.ID = id
		}
		p.SyncState = models.SyncStateSynced
		g.punches[p.ID] = p
		return http.StatusCreated, map[string]any{"id": p.ID, "timestamp": p.Timestamp, "created_at": p.CreatedAt}
	case "users":
		var u models.User
		if err := json.Unmarshal(body, &u); err != nil || u.ID == "" || u.Name == "" {
			return http.StatusUnprocessableEntity, "invalid user"
		}
		if method == http.MethodPut {
			if _, ok := g.users[id]; !ok {
				return http.StatusNotFound, "no such user"
			}
		}
		g.users[u.ID] = u
		return http.StatusOK, u
	case "geofences":
		var f models.Geofence
		if err := json.Unmarshal(body, &f); err != nil || f.Validate() != nil {
			return http.StatusUnprocessableEntity, "invalid geofence"
		}
		if method == http.MethodPut {
			if _, ok := g.geofences[id]; !ok {
				return http.StatusNotFound, "no such geofence"
			}
		}
		g.geofences[f.ID] = f
		return http.StatusOK, f
	case "departments":
		var d models.Department
		if err := json.Unmarshal(body, &d); err != nil || d.ID == "" || d.Name == "" {
			return http.StatusUnprocessableEntity, "invalid department"
		}
		if method == http.MethodPut {
			if _, ok := g.departments[id]; !ok {
				return http.StatusNotFound, "no such department"
			}
		}
		g.departments[d.ID] = d
		return http.StatusOK, d
	}
	return http.StatusNotFound, "unknown collection"
}

func (g *Gateway) remove(collection, id string) (int, any) {
	var ok bool
	switch collection {
	case "punches":
		_, ok = g.punches[id]
		delete(g.punches, id)
	case "users":
		_, ok = g.users[id]
		delete(g.users, id)
	case "geofences":
		_, ok = g.geofences[id]
		delete(g.geofences, id)
	case "departments":
		_, ok = g.departments[id]
		delete(g.departments, id)
	default:
		return http.StatusNotFound, "unknown collection"
	}
	if !ok {
		return http.StatusNotFound, "no such " + collection
	}
	return http.StatusOK, map[string]string{"deleted": id}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if raw, ok := data.(json.RawMessage); ok {
		w.Write(raw)
		return
	}
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
