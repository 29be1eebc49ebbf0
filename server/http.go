package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/David-ssnd/rayz-endpoint/nvs"
	"github.com/David-ssnd/rayz-endpoint/peers"
)

// apiStatus is the GET /api/status payload.
type apiStatus struct {
	Wifi        bool   `json:"wifi"`
	IP          string `json:"ip"`
	Channel     uint8  `json:"channel"`
	Peers       string `json:"peers"`
	EspnowPeers uint8  `json:"espnow_peers"`
}

// NewStationMux builds the station-mode HTTP surface: status page, admin
// API, peer management, WebSocket upgrade, metrics and health.
func NewStationMux(ws *WSServer, sup *Supervisor, bus *peers.Bus, table *peers.Table, store nvs.Store, netif Netif, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := ws.engine.Snapshot()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, statusPageHTML,
			snap.Identity.DeviceName, snap.Identity.PlayerID, snap.Identity.TeamID,
			snap.Identity.Role, snap.Live.CurrentHearts, snap.Live.CurrentAmmo,
			table.Count())
	})

	mux.HandleFunc("/clean", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := sup.CleanWifi(); err != nil {
			http.Error(w, "erase failed", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "wifi credentials erased, restarting\n")
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(apiStatus{
			Wifi:        sup.Connected(),
			IP:          netif.IP(),
			Channel:     bus.Channel(),
			Peers:       table.CSV(),
			EspnowPeers: table.Count(),
		})
	})

	mux.HandleFunc("/api/peers", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"peers": table.CSV()})

		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
			if err != nil {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			csv := string(body)
			if !bus.LoadPeersFromCSV(csv) {
				http.Error(w, "no valid peers in body", http.StatusBadRequest)
				return
			}
			// The list survives reboots alongside the credentials.
			if err := store.PutStr(nvs.NSWifi, nvs.KeyPeers, table.CSV()); err != nil {
				log.Printf("http: peer list persist failed: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "peers": table.CSV()})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/ws", ws.HandleWebSocket)

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}

// NewProvisioningMux builds the captive-portal surface: the config form and
// its POST target.
func NewProvisioningMux(sup *Supervisor) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Captive portals probe arbitrary paths; answer all of them with
		// the form.
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, provisioningFormHTML)
	})

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		ssid := r.PostFormValue("ssid")
		pass := r.PostFormValue("pass")
		name := r.PostFormValue("name")
		role := r.PostFormValue("role")
		if ssid == "" {
			http.Error(w, "ssid is required", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, provisioningDoneHTML)
		if err := sup.Provision(ssid, pass, name, role); err != nil {
			log.Printf("http: provisioning failed: %v", err)
		}
	})

	return mux
}

const statusPageHTML = `<!DOCTYPE html>
<html><head><title>RayZ Endpoint</title></head><body>
<h1>RayZ Endpoint</h1>
<p>Device: %s (player %d, team %d, role %s)</p>
<p>Hearts: %d &middot; Ammo: %d &middot; Peers: %d</p>
<p><a href="/api/status">/api/status</a> &middot; <a href="/metrics">/metrics</a></p>
</body></html>
`

const provisioningFormHTML = `<!DOCTYPE html>
<html><head><title>RayZ Setup</title></head><body>
<h1>RayZ Setup</h1>
<form method="POST" action="/config">
<label>Network SSID <input name="ssid" required></label><br>
<label>Password <input name="pass" type="password"></label><br>
<label>Device name <input name="name"></label><br>
<label>Role
<select name="role">
<option value="weapon">weapon</option>
<option value="target">target</option>
</select></label><br>
<button type="submit">Save &amp; restart</button>
</form>
</body></html>
`

const provisioningDoneHTML = `<!DOCTYPE html>
<html><body><h1>Saved</h1><p>The device restarts and joins your network.</p></body></html>
`
