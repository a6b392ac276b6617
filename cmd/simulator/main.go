package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Cities where vehicles break down and workshops are located.
var cities = []struct {
	Name  string
	State string
	Loc   Location
}{
	{"Curitiba", "PR", Location{Lat: -25.4284, Lon: -49.2733}},
	{"Londrina", "PR", Location{Lat: -23.3045, Lon: -51.1696}},
	{"Maringá", "PR", Location{Lat: -23.4210, Lon: -51.9331}},
	{"São Paulo", "SP", Location{Lat: -23.5505, Lon: -46.6333}},
	{"Campinas", "SP", Location{Lat: -22.9099, Lon: -47.0626}},
	{"Florianópolis", "SC", Location{Lat: -27.5954, Lon: -48.5480}},
	{"Joinville", "SC", Location{Lat: -26.3045, Lon: -48.8487}},
	{"Porto Alegre", "RS", Location{Lat: -30.0346, Lon: -51.2177}},
}

var phases = []string{"FASE1", "FASE2", "FASE3", "FASE4", "FASE5"}

func jitterLocation(base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

// randomPlate returns a plate in the Mercosur format, e.g. ABC1D23.
func randomPlate() string {
	letter := func() byte { return byte('A' + rand.Intn(26)) }
	digit := func() byte { return byte('0' + rand.Intn(10)) }
	return string([]byte{letter(), letter(), letter(), digit(), letter(), digit(), digit()})
}

// nextPhase returns the phase after p, or "" when p is terminal or unknown.
func nextPhase(p string) string {
	for i, v := range phases {
		if v == p && i+1 < len(phases) {
			return phases[i+1]
		}
	}
	return ""
}

// apiError is a non-2xx API response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// apiClient calls the fleet API as one user.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// as returns a copy of c authenticated with token.
func (c *apiClient) as(token string) *apiClient {
	cp := *c
	cp.token = token
	return &cp
}

// call sends body as JSON and decodes the response data into out.
func (c *apiClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s (status %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// session logs username in, registering the account with role first if
// it does not exist yet.
func (c *apiClient) session(ctx context.Context, username, password, role string) (*apiClient, error) {
	var resp struct {
		Token string `json:"token"`
	}
	creds := map[string]string{"username": username, "password": password}
	err := c.call(ctx, http.MethodPost, "/auth/login", creds, &resp)

	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		err = c.call(ctx, http.MethodPost, "/auth/register", map[string]string{
			"username":   username,
			"password":   password,
			"email":      username + "@simulator.local",
			"role":       role,
			"first_name": "Sim",
			"last_name":  role,
		}, &resp)
	}
	if err != nil {
		return nil, fmt.Errorf("session for %s: %w", username, err)
	}
	return c.as(resp.Token), nil
}

type idResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Phase  string `json:"phase"`
}

// simulation holds one client per role.
type simulation struct {
	admin      *apiClient
	analyst    *apiClient
	supervisor *apiClient
	workshops  []string
	rejectRate float64
}

func createVehicle(ctx context.Context, admin *apiClient) (string, error) {
	makes := map[string][]string{
		"Fiat":       {"Strada", "Toro", "Mobi"},
		"Volkswagen": {"Gol", "Saveiro", "Amarok"},
		"Toyota":     {"Corolla", "Hilux"},
		"Chevrolet":  {"Onix", "S10"},
	}
	brands := make([]string, 0, len(makes))
	for b := range makes {
		brands = append(brands, b)
	}
	brand := brands[rand.Intn(len(brands))]
	model := makes[brand][rand.Intn(len(makes[brand]))]
	city := cities[rand.Intn(len(cities))]

	var v idResponse
	err := admin.call(ctx, http.MethodPost, "/vehicles", map[string]interface{}{
		"plate":            randomPlate(),
		"make":             brand,
		"model":            model,
		"year":             2018 + rand.Intn(7),
		"department":       "Operations " + city.State,
		"current_location": jitterLocation(city.Loc, 2000),
	}, &v)
	if err != nil {
		return "", fmt.Errorf("create vehicle: %w", err)
	}
	log.WithFields(log.Fields{"vehicle_id": v.ID, "make": brand, "model": model}).Info("Created vehicle")
	return v.ID, nil
}

func createWorkshop(ctx context.Context, admin *apiClient, i int) (string, error) {
	city := cities[i%len(cities)]
	var w idResponse
	err := admin.call(ctx, http.MethodPost, "/workshops", map[string]interface{}{
		"name":  fmt.Sprintf("Oficina %s %d", city.Name, i+1),
		"city":  city.Name,
		"state": city.State,
	}, &w)
	if err != nil {
		return "", fmt.Errorf("create workshop: %w", err)
	}
	log.WithFields(log.Fields{"workshop_id": w.ID, "city": city.Name}).Info("Created workshop")
	return w.ID, nil
}

// vehicleState is where one vehicle is in its breakdown cycle.
type vehicleState struct {
	VehicleID string
	RequestID string
	Status    string
	RecordID  string
	Phase     string
	Cycles    int
}

// step moves s one action forward: report, review, open the record, then
// one phase per step until the record closes.
func (sim *simulation) step(ctx context.Context, s *vehicleState) error {
	switch {
	case s.RequestID == "":
		city := cities[rand.Intn(len(cities))]
		loc := jitterLocation(city.Loc, 5000)
		var m idResponse
		err := sim.supervisor.call(ctx, http.MethodPost, "/maintenance", map[string]interface{}{
			"vehicle_id":  s.VehicleID,
			"description": "breakdown reported near " + city.Name,
			"urgency":     []string{"low", "medium", "high", "critical"}[rand.Intn(4)],
			"latitude":    loc.Lat,
			"longitude":   loc.Lon,
		}, &m)
		if err != nil {
			return err
		}
		s.RequestID, s.Status = m.ID, m.Status

	case s.Status == "pending":
		var m idResponse
		if rand.Float64() < sim.rejectRate {
			err := sim.analyst.call(ctx, http.MethodPost, "/maintenance/"+s.RequestID+"/reject",
				map[string]string{"reason": "not a fleet issue"}, &m)
			if err != nil {
				return err
			}
			log.WithField("maintenance_id", s.RequestID).Info("Request rejected")
			s.RequestID, s.Status = "", ""
			return nil
		}
		workshop := sim.workshops[rand.Intn(len(sim.workshops))]
		err := sim.analyst.call(ctx, http.MethodPost, "/maintenance/"+s.RequestID+"/approve",
			map[string]string{"workshop_id": workshop}, &m)
		if err != nil {
			return err
		}
		s.Status = m.Status

	case s.RecordID == "":
		var rec idResponse
		err := sim.supervisor.call(ctx, http.MethodPost, "/inoperative", map[string]string{"maintenance_id": s.RequestID}, &rec)
		if err != nil {
			return err
		}
		s.RecordID, s.Phase = rec.ID, rec.Phase

	default:
		next := nextPhase(s.Phase)
		if next == "" {
			*s = vehicleState{VehicleID: s.VehicleID, Cycles: s.Cycles + 1}
			return nil
		}
		var rec idResponse
		err := sim.supervisor.call(ctx, http.MethodPatch, "/inoperative/"+s.RecordID+"/phase", map[string]string{"phase": next}, &rec)
		if err != nil {
			return err
		}
		s.Phase = rec.Phase
		log.WithFields(log.Fields{"inoperative_id": s.RecordID, "phase": s.Phase}).Info("Advanced phase")
	}
	return nil
}

func (sim *simulation) simulateVehicle(ctx context.Context, s *vehicleState, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if err := sim.step(ctx, s); err != nil {
			log.WithError(err).WithField("vehicle_id", s.VehicleID).Warn("Simulation step failed")
		}
	}
}

func setup(ctx context.Context, base *apiClient, password string, fleetSize, workshops int) (*simulation, []*vehicleState, error) {
	sim := &simulation{rejectRate: 0.1}
	var err error
	if sim.admin, err = base.session(ctx, "sim-admin", password, "admin"); err != nil {
		return nil, nil, err
	}
	if sim.analyst, err = base.session(ctx, "sim-analyst", password, "analyst"); err != nil {
		return nil, nil, err
	}
	if sim.supervisor, err = base.session(ctx, "sim-supervisor", password, "supervisor"); err != nil {
		return nil, nil, err
	}

	for i := 0; i < workshops; i++ {
		id, err := createWorkshop(ctx, sim.admin, i)
		if err != nil {
			return nil, nil, err
		}
		sim.workshops = append(sim.workshops, id)
	}

	states := make([]*vehicleState, 0, fleetSize)
	for i := 0; i < fleetSize; i++ {
		id, err := createVehicle(ctx, sim.admin)
		if err != nil {
			log.WithError(err).Error("Failed to create vehicle")
			continue
		}
		states = append(states, &vehicleState{VehicleID: id})
	}
	if len(states) == 0 {
		return nil, nil, errors.New("no vehicles created")
	}
	return sim, states, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

func main() {
	fleetSize := envInt("FLEET_SIZE", 10)
	workshops := envInt("SIM_WORKSHOPS", 3)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	password := os.Getenv("SIM_PASSWORD")
	if password == "" {
		password = "simulator-pass"
	}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    apiURL,
		"interval":   interval,
	}).Info("Starting fleet simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, states, err := setup(ctx, newClient(apiURL), password, fleetSize, workshops)
	if err != nil {
		log.WithError(err).Fatal("Simulation setup failed")
	}

	var wg sync.WaitGroup
	for _, s := range states {
		wg.Add(1)
		go func(s *vehicleState) {
			defer wg.Done()
			sim.simulateVehicle(ctx, s, interval)
		}(s)
	}
	log.WithField("vehicles", len(states)).Info("Breakdown simulation started")
	wg.Wait()
	log.Info("Simulation stopped")
}
