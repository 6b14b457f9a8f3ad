package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/handpump-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"liters": func(v float64) string {
		return fmt.Sprintf("%.3f L", v)
	},
	"stateClass": func(s string) string {
		switch s {
		case "ACTIVE":
			return "active"
		case "INACTIVE":
			return "inactive"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Hand Pump Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.inactive { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Hand Pump Sensor{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Pump</h2>
<table>
<tr><th>State</th><td id="pump-state" class="{{stateClass .StateName}}">{{.StateName}}</td></tr>
<tr><th>Total Pumped</th><td id="total">{{liters .TotalLiters}}</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Last Measurement</h2>
{{with .Last}}<table>
<tr><th>Time</th><td id="last-time">{{.Time.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Distance</th><td id="distance">{{.DistanceMM}} mm</td></tr>
<tr><th>ADC</th><td id="adc">{{if .ADCValid}}{{.ADCRaw}}{{else}}n/a{{end}}</td></tr>
<tr><th>Ambient</th><td id="ambient">{{printf "%.2f" .AmbientC}} &deg;C</td></tr>
<tr><th>Water</th><td id="object">{{printf "%.2f" .ObjectC}} &deg;C</td></tr>
</table>{{else}}<p>No measurement yet.</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Serial</th><td>{{if .Config.SerialPort}}{{.Config.SerialPort}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Cycles</h2>
<table>
<tr><th>Records</th><td>{{.Counts.Records}}</td></tr>
<tr><th>Active</th><td>{{.Counts.Active}}</td></tr>
<tr><th>Discarded</th><td>{{.Counts.Discarded}}</td></tr>
<tr><th>IRQ Edges</th><td>{{.IRQEdges}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Timing Budget</th><td>{{.Config.TimingBudgetMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "water/handpump/sensor/measurements";
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("pump-state");
  var totalEl = document.getElementById("total");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });
  client.on("reconnect", function() { setDot("pending", "reconnecting"); });
  client.on("offline", function() { setDot("err", "offline"); });
  client.on("error", function() { setDot("err", "error"); });

  client.on("message", function(t, payload) {
    try {
      var m = JSON.parse(payload.toString()).measurement;
      if (!m) { return; }
      stateEl.textContent = m.state;
      stateEl.className = m.state === "ACTIVE" ? "active" : "inactive";
      totalEl.textContent = m.total_l.toFixed(3) + " L";
      var d = document.getElementById("distance");
      if (d) { d.textContent = m.distance_mm + " mm"; }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
