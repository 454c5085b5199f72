package viewer

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>canvas viewer</title>
<style>
  body { margin: 0; font: 13px/1.4 ui-monospace, monospace; background: #111; color: #ddd; display: flex; height: 100vh; }
  #shot { flex: 1; display: flex; align-items: center; justify-content: center; overflow: auto; }
  #shot img { max-width: 100%; box-shadow: 0 0 0 1px #333; }
  #log { width: 360px; overflow-y: auto; border-left: 1px solid #333; padding: 8px; }
  .ev { white-space: pre-wrap; border-bottom: 1px solid #222; padding: 4px 0; }
  .ui_ready { color: #7c7; }
  .file_changed { color: #cc7; }
</style>
</head>
<body>
<div id="shot"><img id="img" alt="no capture yet"></div>
<div id="log"></div>
<script>
const img = document.getElementById("img");
const log = document.getElementById("log");
function refresh() { img.src = "/latest.png?t=" + Date.now(); }
function connect() {
  const ws = new WebSocket("ws://" + location.host + "/ws");
  ws.onmessage = (m) => {
    const ev = JSON.parse(m.data);
    const row = document.createElement("div");
    row.className = "ev " + ev.event;
    row.textContent = ev.event + " " + JSON.stringify(ev.data);
    log.prepend(row);
    while (log.childElementCount > 200) log.lastChild.remove();
    if (ev.event === "screenshot" || ev.event === "ui_ready") refresh();
  };
  ws.onclose = () => setTimeout(connect, 1000);
}
refresh();
connect();
</script>
</body>
</html>
`
