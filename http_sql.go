package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"html/template"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Read-only SQL console over the ClickHouse mirror.

const (
	consoleMaxBody = 1 << 20
	consoleMaxRows = 5000
)

type consolePreset struct {
	Name string
	SQL  string
}

var consolePresets = []consolePreset{
	{"브랜드 7일", `SELECT
  brand_name,
  count() AS observations,
  uniqExact(product_id) AS products,
  min(ranking) AS best,
  round(avg(ranking), 1) AS avg_rank,
  round(avgOrNull(sale_price)) AS avg_price
FROM ranking_observations
WHERE collected_at >= now() - INTERVAL 7 DAY
  AND brand_name != 'N/A'
GROUP BY brand_name
ORDER BY observations DESC, avg_rank ASC
LIMIT 50`},
	{"수집 회차", `SELECT
  run_id,
  min(collected_at) AS collected_at,
  count() AS rows,
  uniqExact(category_key) AS categories
FROM ranking_observations
GROUP BY run_id
ORDER BY collected_at DESC
LIMIT 20`},
	{"카테고리 1위", `SELECT
  category_key,
  argMax(product_id, collected_at) AS product_id,
  argMax(brand_name, collected_at) AS brand_name,
  max(collected_at) AS collected_at
FROM ranking_observations
WHERE ranking = 1
GROUP BY category_key
ORDER BY category_key`},
}

func (hs *HTTPServer) handleQueryUI(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	banner := ""
	if hs.cfg.CH == nil {
		banner = "ClickHouse 미러가 꺼져 있습니다. --clickhouse 또는 CLICKHOUSE_ENABLED=1 로 켜세요."
	}
	runID := ""
	if hs.cfg.Crawler != nil {
		if last, ok := hs.cfg.Crawler.Last(); ok {
			runID = last.RunID
		}
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(queryUIHTML(runID, banner)))
}

type queryReq struct {
	SQL string `json:"sql"`
}

type queryResp struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	ElapsedMS int64    `json:"elapsed_ms"`
	Truncated bool     `json:"truncated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// handleQuery answers 200 even when ClickHouse rejects the query; the error
// travels in the body so the console can show it next to the editor.
func (hs *HTTPServer) handleQuery(c *gin.Context) {
	if hs.cfg.CH == nil || hs.cfg.CH.SQLDB() == nil {
		hs.handleError(c, NewExternalError("clickhouse", errors.New("ClickHouse not configured")))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, consoleMaxBody)
	var req queryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		hs.handleError(c, NewValidationError("invalid request body: "+err.Error()))
		return
	}

	clean, ok, reason := validateQuery(req.SQL, os.Getenv("ALLOW_DDL") == "1")
	if !ok {
		hs.handleError(c, NewValidationError(reason))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, runConsoleQuery(ctx, hs.cfg.CH.SQLDB(), clean, consoleMaxRows))
}

func runConsoleQuery(ctx context.Context, db *sql.DB, q string, maxRows int) queryResp {
	start := time.Now()
	fail := func(err error) queryResp {
		return queryResp{Error: err.Error(), ElapsedMS: time.Since(start).Milliseconds()}
	}

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return fail(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fail(err)
	}

	resp := queryResp{Columns: cols, Rows: make([][]any, 0, 64)}
	for rows.Next() {
		if len(resp.Rows) == maxRows {
			resp.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fail(err)
		}
		for i, v := range vals {
			vals[i] = jsonCell(v)
		}
		resp.Rows = append(resp.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return fail(err)
	}
	resp.ElapsedMS = time.Since(start).Milliseconds()
	return resp
}

func jsonCell(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

var sqlBlockedWords = []string{
	"insert", "alter", "drop", "create", "truncate", "optimize",
	"attach", "detach", "system", "grant", "revoke", "delete", "update",
}

// validateQuery admits one SELECT or WITH statement. Leading comments and a
// single trailing semicolon are stripped; allowDDL lifts the keyword checks
// but never the single-statement rule.
func validateQuery(sqlText string, allowDDL bool) (clean string, ok bool, reason string) {
	s := stripLeadingComments(sqlText)
	if s == "" {
		return "", false, "empty sql"
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	if strings.Contains(s, ";") {
		return "", false, "multi-statement queries are not allowed"
	}
	if allowDDL {
		return s, true, ""
	}

	l := strings.ToLower(s)
	if !strings.HasPrefix(l, "select") && !strings.HasPrefix(l, "with") {
		return "", false, "only SELECT queries are allowed (set ALLOW_DDL=1 to override)"
	}
	for _, w := range sqlBlockedWords {
		if containsWord(l, w) {
			return "", false, "query rejected: " + strings.ToUpper(w) + " is not allowed (set ALLOW_DDL=1 to override)"
		}
	}
	return s, true, ""
}

// containsWord matches w only on identifier boundaries, so columns such as
// created_at or last_updated do not trip the gate.
func containsWord(s, w string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], w)
		if j < 0 {
			return false
		}
		j += i
		end := j + len(w)
		if (j == 0 || !isIdentByte(s[j-1])) && (end == len(s) || !isIdentByte(s[end])) {
			return true
		}
		i = j + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		var end string
		switch {
		case strings.HasPrefix(s, "--"):
			end = "\n"
		case strings.HasPrefix(s, "/*"):
			end = "*/"
		default:
			return s
		}
		i := strings.Index(s, end)
		if i < 0 {
			return ""
		}
		s = s[i+len(end):]
	}
}

var consoleTmpl = template.Must(template.New("console").Parse(`<!doctype html>
<html lang="ko">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>wbest · SQL</title>
<style>
  body { font: 14px system-ui, sans-serif; margin: 0; background: #f7f7f8; color: #1a1a1a; }
  header { display: flex; justify-content: space-between; padding: 10px 16px; background: #1a1a1a; color: #fff; }
  header small { opacity: .7; }
  .banner { margin: 12px 16px; padding: 10px; border-radius: 8px; background: #fdecea; color: #8a1c12; }
  main { max-width: 1200px; margin: 0 auto; padding: 16px; }
  textarea { box-sizing: border-box; width: 100%; height: 200px; font: 13px ui-monospace, monospace; padding: 8px; border: 1px solid #ccc; border-radius: 8px; }
  .bar { display: flex; gap: 8px; align-items: center; margin: 8px 0; flex-wrap: wrap; }
  button { border: 1px solid #1a1a1a; background: #fff; border-radius: 6px; padding: 6px 10px; cursor: pointer; }
  button.primary { background: #1a1a1a; color: #fff; }
  #out { overflow: auto; max-height: 60vh; background: #fff; border-radius: 8px; }
  table { border-collapse: collapse; width: 100%; font-variant-numeric: tabular-nums; }
  th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #eee; }
  th { position: sticky; top: 0; background: #fafafa; }
  #status { color: #666; }
  #err { color: #b00020; white-space: pre-wrap; }
</style>
</head>
<body>
<header><b>wbest <small>W Concept 랭킹 · ClickHouse SQL</small></b><span>마지막 수집: {{.RunID}}</span></header>
{{if .Banner}}<div class="banner">{{.Banner}}</div>{{end}}
<main>
  <div class="bar">
    {{range $i, $p := .Presets}}<button data-preset="{{$i}}">{{$p.Name}}</button>{{end}}
  </div>
  <textarea id="sql">{{.Query}}</textarea>
  <div class="bar"><button class="primary" id="run">실행</button><span id="status"></span></div>
  <div id="err"></div>
  <div id="out"><table><thead></thead><tbody></tbody></table></div>
</main>
<script>
const presets = [{{range .Presets}}{{.SQL}},{{end}}];
const $ = (q) => document.querySelector(q);

document.querySelectorAll('[data-preset]').forEach((b) => {
  b.onclick = () => { $('#sql').value = presets[+b.dataset.preset]; };
});

function cell(tag, text) {
  const el = document.createElement(tag);
  el.textContent = text == null ? '' : text;
  return el;
}

$('#run').onclick = async () => {
  $('#run').disabled = true;
  $('#err').textContent = '';
  $('#status').textContent = '실행 중...';
  $('thead').replaceChildren();
  $('tbody').replaceChildren();
  try {
    const res = await fetch('/api/sql/query', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify({sql: $('#sql').value}),
    });
    const body = await res.json();
    if (body.error || body.type) {
      $('#err').textContent = body.error || (body.message + (body.detail ? ': ' + body.detail : ''));
      $('#status').textContent = '오류';
      return;
    }
    const head = document.createElement('tr');
    (body.columns || []).forEach((c) => head.appendChild(cell('th', c)));
    $('thead').appendChild(head);
    (body.rows || []).forEach((r) => {
      const tr = document.createElement('tr');
      r.forEach((v) => tr.appendChild(cell('td', v)));
      $('tbody').appendChild(tr);
    });
    $('#status').textContent = (body.rows || []).length + '행 · ' + body.elapsed_ms + 'ms' + (body.truncated ? ' (잘림)' : '');
  } catch (e) {
    $('#err').textContent = String(e);
    $('#status').textContent = '오류';
  } finally {
    $('#run').disabled = false;
  }
};
</script>
</body>
</html>
`))

func queryUIHTML(runID string, banner string) string {
	if runID == "" {
		runID = "-"
	}
	var buf bytes.Buffer
	err := consoleTmpl.Execute(&buf, struct {
		RunID   string
		Banner  string
		Query   string
		Presets []consolePreset
	}{runID, banner, consolePresets[0].SQL, consolePresets})
	if err != nil {
		return "console unavailable: " + template.HTMLEscapeString(err.Error())
	}
	return buf.String()
}
