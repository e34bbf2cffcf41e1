package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>ChatShelf Control Surface</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --accent-2: #e88a3d;
      --danger: #c2483f;
      --muted: #6f7d7d;
      --shadow: 0 18px 36px rgba(16, 34, 35, 0.16);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background:
        radial-gradient(1200px 500px at -5% -10%, rgba(232, 138, 61, 0.18), transparent 60%),
        radial-gradient(900px 500px at 110% -10%, rgba(31, 157, 136, 0.2), transparent 65%),
        linear-gradient(140deg, #fff9ef 0%, #f1f8f7 45%, #fffdf9 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 1100px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .bar {
      background: linear-gradient(140deg, #fffefc, #fcf6eb);
      border: 1px solid var(--line);
      border-radius: 18px;
      padding: 16px;
      box-shadow: var(--shadow);
    }

    h1 {
      margin: 0;
      font-size: clamp(1.2rem, 2vw, 1.75rem);
      letter-spacing: 0.02em;
    }

    .sub {
      margin-top: 6px;
      color: var(--muted);
      font-size: 0.9rem;
    }

    .controls {
      display: grid;
      gap: 10px;
      grid-template-columns: 1.4fr 0.8fr 0.5fr 0.5fr;
      margin-top: 12px;
    }

    .controls input {
      width: 100%;
      border-radius: 10px;
      border: 1px solid var(--line);
      background: #ffffff;
      color: var(--ink);
      padding: 10px 12px;
      font-size: 0.92rem;
      outline: none;
    }

    .controls input:focus {
      border-color: var(--accent);
      box-shadow: 0 0 0 3px rgba(31, 157, 136, 0.15);
    }

    button {
      border: 0;
      border-radius: 10px;
      padding: 10px 12px;
      font-family: inherit;
      font-weight: 700;
      cursor: pointer;
    }

    .btn-primary {
      background: linear-gradient(125deg, var(--accent), #2ab399);
      color: #ffffff;
      box-shadow: 0 10px 18px rgba(31, 157, 136, 0.22);
    }

    .btn-secondary {
      background: linear-gradient(120deg, #f2ede2, #efe6d7);
      color: var(--ink);
      border: 1px solid var(--line);
    }

    .cards {
      display: grid;
      gap: 14px;
      grid-template-columns: repeat(auto-fit, minmax(300px, 1fr));
    }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 14px;
      box-shadow: var(--shadow);
    }

    .card h2 {
      margin: 0 0 8px;
      font-size: 1rem;
      letter-spacing: 0.01em;
    }

    .project {
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 10px 12px;
      margin-bottom: 8px;
      background: #fffefb;
    }

    .project .name { font-weight: 700; }
    .project .ctx { color: var(--accent); font-size: 0.82rem; }
    .project .chat { color: var(--muted); font-size: 0.85rem; padding-left: 12px; }

    .status { font-size: 0.85rem; margin-top: 8px; }
    .status.ok { color: var(--accent); }
    .status.warn { color: var(--accent-2); }
    .status.err { color: var(--danger); }

    .feed {
      max-height: 320px;
      overflow-y: auto;
      font-family: "SFMono-Regular", Menlo, monospace;
      font-size: 0.8rem;
      white-space: pre-wrap;
    }
  </style>
</head>
<body>
  <div class="shell">
    <div class="bar">
      <h1>ChatShelf Control Surface</h1>
      <div class="sub">namespace <span id="namespace">-</span> &middot; api <span id="apiBase"></span> &middot; updated <span id="lastUpdated">-</span></div>
      <div class="controls">
        <input id="token" type="password" placeholder="bearer token" autocomplete="off" />
        <input id="ns" type="text" placeholder="namespace" autocomplete="off" />
        <button id="refresh" class="btn-primary" type="button">Refresh</button>
        <button id="toggle" class="btn-secondary" type="button">Pause Auto</button>
      </div>
      <div id="status" class="status warn">enter token to start</div>
    </div>
    <div class="cards">
      <div class="card">
        <h2>Projects</h2>
        <div id="projects"></div>
      </div>
      <div class="card">
        <h2>Live Events</h2>
        <div id="events" class="feed"></div>
      </div>
    </div>
  </div>
  <script>
    (function () {
      const dom = {
        token: document.getElementById("token"),
        ns: document.getElementById("ns"),
        refresh: document.getElementById("refresh"),
        toggle: document.getElementById("toggle"),
        status: document.getElementById("status"),
        namespace: document.getElementById("namespace"),
        apiBase: document.getElementById("apiBase"),
        lastUpdated: document.getElementById("lastUpdated"),
        projects: document.getElementById("projects"),
        events: document.getElementById("events"),
      };
      const store = { paused: false, timer: null, intervalMs: 5000, socket: null };

      function getBase() { return window.location.origin; }
      function getToken() { return dom.token.value.trim(); }

      function setStatus(message, kind) {
        dom.status.textContent = message;
        dom.status.className = "status " + kind;
      }

      function correlationId() {
        return "dash_" + Math.random().toString(36).slice(2, 10);
      }

      async function apiGet(path) {
        const res = await fetch(getBase() + path, {
          headers: {
            "Authorization": "Bearer " + getToken(),
            "X-Correlation-Id": correlationId(),
          },
        });
        const body = await res.json();
        if (!res.ok) {
          throw new Error(String(body.message || res.status));
        }
        return body;
      }

      function escapeHTML(value) {
        return String(value).replace(/[&<>"']/g, function (ch) {
          return "&#" + ch.charCodeAt(0) + ";";
        });
      }

      function renderProjects(projects) {
        if (!projects.length) {
          dom.projects.innerHTML = '<div class="sub">no projects yet</div>';
          return;
        }
        dom.projects.innerHTML = projects.map(function (project) {
          const ctx = project.contextId
            ? '<div class="ctx">linked: ' + escapeHTML(project.contextName || project.contextId) + "</div>"
            : "";
          const chats = (project.chats || []).map(function (chat) {
            return '<div class="chat">' + escapeHTML(chat.title || chat.id) + "</div>";
          }).join("");
          return '<div class="project"><div class="name">' + escapeHTML(project.name) + "</div>" + ctx + chats + "</div>";
        }).join("");
      }

      function appendEvent(event) {
        const line = document.createElement("div");
        line.textContent = new Date().toLocaleTimeString() + " " + JSON.stringify(event);
        dom.events.prepend(line);
        while (dom.events.childNodes.length > 200) {
          dom.events.removeChild(dom.events.lastChild);
        }
      }

      function ensureSocket() {
        if (store.socket || !getToken()) {
          return;
        }
        try {
          const proto = window.location.protocol === "https:" ? "wss://" : "ws://";
          const socket = new WebSocket(proto + window.location.host + "/v1/events");
          socket.onmessage = function (msg) {
            try { appendEvent(JSON.parse(msg.data)); } catch (err) { /* skip */ }
          };
          socket.onclose = function () { store.socket = null; };
          store.socket = socket;
        } catch (err) {
          store.socket = null;
        }
      }

      async function refresh() {
        if (!getToken()) {
          setStatus("enter token to start", "warn");
          return;
        }
        try {
          const health = await apiGet("/health");
          const namespace = dom.ns.value.trim() || health.namespace;
          dom.namespace.textContent = namespace;
          const body = await apiGet("/v1/namespaces/" + encodeURIComponent(namespace) + "/projects");
          renderProjects(Array.isArray(body.projects) ? body.projects : []);
          dom.lastUpdated.textContent = new Date().toLocaleTimeString();
          setStatus("ok", "ok");
          ensureSocket();
          window.localStorage.setItem("chatshelf_dashboard_token", getToken());
          window.localStorage.setItem("chatshelf_dashboard_namespace", dom.ns.value.trim());
        } catch (err) {
          setStatus(String(err && err.message ? err.message : err), "err");
        }
      }

      function ensureTimer() {
        if (store.timer) {
          clearInterval(store.timer);
          store.timer = null;
        }
        if (!store.paused) {
          store.timer = setInterval(refresh, store.intervalMs);
        }
      }

      dom.refresh.addEventListener("click", refresh);
      dom.toggle.addEventListener("click", function () {
        store.paused = !store.paused;
        dom.toggle.textContent = store.paused ? "Resume Auto" : "Pause Auto";
        ensureTimer();
      });
      dom.token.addEventListener("change", refresh);
      dom.ns.addEventListener("change", refresh);

      dom.token.value = window.localStorage.getItem("chatshelf_dashboard_token") || "";
      dom.ns.value = window.localStorage.getItem("chatshelf_dashboard_namespace") || "";
      dom.apiBase.textContent = getBase();

      ensureTimer();
      if (dom.token.value) {
        refresh();
      }
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
