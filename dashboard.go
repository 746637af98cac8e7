package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const historyDays = 2

type DashboardConfig struct {
	API        string
	Brand      string
	Category   string
	Limit      int
	Every      time.Duration
	ExportDir  string
	Categories []Category
	Loc        *time.Location
	Log        *Logger
}

type Theme struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Help     lipgloss.Style
	Card     lipgloss.Style
	Error    lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		Title:    lipgloss.NewStyle().Bold(true),
		Subtitle: lipgloss.NewStyle().Faint(true),
		Help:     lipgloss.NewStyle().Faint(true),
		Card: lipgloss.NewStyle().
			Padding(0, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")),
		Error: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

type dataLoadedMsg struct {
	rows     []DashboardRow
	health   HealthStatus
	updates  map[string]CategoryUpdate
	fallback bool
	category string
	gen      int
	at       time.Time
	err      error
}

type refreshTickMsg struct{ gen int }

type triggerDoneMsg struct {
	resp TriggerResponse
	err  error
}

type exportDoneMsg struct {
	paths []string
	err   error
}

type dashModel struct {
	theme  Theme
	cfg    DashboardConfig
	client *APIClient

	tbl     table.Model
	spin    spinner.Model
	loading bool
	err     error
	toast   string

	rows     []DashboardRow
	health   HealthStatus
	updates  map[string]CategoryUpdate
	fallback bool
	loadedAt time.Time

	// gen identifies the newest load; loads and ticks from older generations are ignored
	gen int

	// catKeys[0] is "" for all categories
	catKeys []string
	catIdx  int
	width   int
	height  int
}

func RunDashboard(cfg DashboardConfig) error {
	m := newDashModel(cfg)
	p := tea.NewProgram(safeDash{m: m}, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func newDashModel(cfg DashboardConfig) dashModel {
	if cfg.Loc == nil {
		cfg.Loc = LoadSeoul()
	}
	if cfg.Log == nil {
		cfg.Log = NewNopLogger()
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "."
	}

	keys := []string{""}
	for _, c := range cfg.Categories {
		keys = append(keys, c.Key)
	}
	idx := 0
	for i, k := range keys {
		if k == cfg.Category {
			idx = i
		}
	}
	if cfg.Category != "" && idx == 0 {
		keys = append(keys, cfg.Category)
		idx = len(keys) - 1
	}

	t := table.New(
		table.WithColumns(dashColumns()),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	st.Selected = st.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(st)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return dashModel{
		theme:   DefaultTheme(),
		cfg:     cfg,
		client:  NewAPIClient(cfg.API, 60*time.Second, cfg.Log),
		tbl:     t,
		spin:    sp,
		loading: true,
		catKeys: keys,
		catIdx:  idx,
	}
}

func dashColumns() []table.Column {
	return []table.Column{
		{Title: "#", Width: 4},
		{Title: "변동", Width: 6},
		{Title: "브랜드", Width: 18},
		{Title: "상품명", Width: 40},
		{Title: "카테고리", Width: 10},
		{Title: "가격", Width: 12},
		{Title: "할인", Width: 6},
	}
}

func (m dashModel) category() string { return m.catKeys[m.catIdx] }

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.load())
}

func (m dashModel) load() tea.Cmd {
	client, cfg, category, gen := m.client, m.cfg, m.category(), m.gen
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		msg := loadDashboard(ctx, client, cfg, category)
		msg.gen = gen
		return msg
	}
}

// loadDashboard fetches one screenful. A zero Limit leaves the cap to the
// server so the whole latest collection is shown. Health and update times
// are best effort; only the product listing can fail the load.
func loadDashboard(ctx context.Context, client *APIClient, cfg DashboardConfig, category string) dataLoadedMsg {
	msg := dataLoadedMsg{category: category, at: time.Now()}

	products, err := client.CurrentProducts(ctx, CurrentQuery{Limit: cfg.Limit, Brand: cfg.Brand, Category: category})
	if err != nil {
		msg.err = fmt.Errorf("products: %w", err)
		return msg
	}
	products = FilterBrand(LatestOnly(products), cfg.Brand)
	sortCurrentRows(products)

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ProductID)
	}
	hist, fallback := client.Histories(ctx, ids, historyDays)
	msg.rows = BuildDashboardRows(products, hist)
	msg.fallback = fallback

	if h, err := client.Health(ctx); err == nil {
		msg.health = h
	} else {
		cfg.Log.Warnf("health: %v", err)
	}
	if u, err := client.CategoryUpdateTimes(ctx); err == nil {
		msg.updates = u
	} else {
		cfg.Log.Debugf("category update times: %v", err)
	}
	return msg
}

// scheduleRefresh arms the next timed load for the current generation. Only
// the newest load re-arms, so there is one pending timer at a time.
func (m dashModel) scheduleRefresh() tea.Cmd {
	if m.cfg.Every <= 0 {
		return nil
	}
	gen := m.gen
	return tea.Tick(m.cfg.Every, func(time.Time) tea.Msg { return refreshTickMsg{gen: gen} })
}

// reload starts a load under a new generation, which retires any pending timer.
func (m dashModel) reload() (dashModel, tea.Cmd) {
	m.gen++
	m.loading = true
	return m, tea.Batch(m.spin.Tick, m.load())
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.tbl.SetHeight(max(5, msg.Height-12))
		m.tbl.SetWidth(max(40, msg.Width-4))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case dataLoadedMsg:
		if msg.gen != m.gen || msg.category != m.category() {
			// superseded, e.g. a category the user already tabbed away from
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, m.scheduleRefresh()
		}
		m.err = nil
		m.rows = msg.rows
		m.health = msg.health
		if msg.updates != nil {
			m.updates = msg.updates
		}
		m.fallback = msg.fallback
		m.loadedAt = msg.at
		m.tbl.SetRows(m.tableRows())
		return m, m.scheduleRefresh()

	case refreshTickMsg:
		if msg.gen != m.gen || m.loading {
			return m, nil
		}
		return m.reload()

	case triggerDoneMsg:
		if msg.err != nil {
			m.toast = "crawl trigger failed: " + msg.err.Error()
		} else {
			m.toast = fmt.Sprintf("crawl started (run %s)", msg.resp.RunID)
		}
		return m, nil

	case exportDoneMsg:
		if msg.err != nil {
			m.toast = "export failed: " + msg.err.Error()
		} else {
			m.toast = "exported " + strings.Join(msg.paths, ", ")
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			if m.loading {
				return m, nil
			}
			m.toast = ""
			return m.reload()
		case "tab":
			m.catIdx = (m.catIdx + 1) % len(m.catKeys)
			return m.reload()
		case "t":
			client := m.client
			m.toast = "triggering crawl..."
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				resp, err := client.TriggerCrawl(ctx)
				return triggerDoneMsg{resp: resp, err: err}
			}
		case "e":
			rows, dir, loc := m.rows, m.cfg.ExportDir, m.cfg.Loc
			return m, func() tea.Msg {
				paths, err := exportRows(dir, rows, time.Now(), loc)
				return exportDoneMsg{paths: paths, err: err}
			}
		}
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

func (m dashModel) tableRows() []table.Row {
	out := make([]table.Row, 0, len(m.rows))
	for _, r := range m.rows {
		// cells stay unstyled: the table truncates by width and would cut escape codes
		cat := deref(r.Category)
		if cat == "" {
			cat = deref(r.CategoryKey)
		}
		disc := ""
		if r.DiscountRate != nil && *r.DiscountRate > 0 {
			disc = strconv.FormatFloat(*r.DiscountRate, 'f', 0, 64) + "%"
		}
		out = append(out, table.Row{
			strconv.Itoa(r.Ranking),
			r.Badge(),
			r.BrandName,
			r.ProductName,
			cat,
			FormatKRW(r.Price),
			disc,
		})
	}
	return out
}

func (m dashModel) View() string {
	wrap := lipgloss.NewStyle().Padding(1, 2)

	cat := m.category()
	if cat == "" {
		cat = "all"
	}
	header := m.theme.Title.Render("W Concept 베스트 랭킹") + "\n" +
		m.theme.Subtitle.Render(fmt.Sprintf("api %s · category %s · brand %s%s", m.cfg.API, cat, orDash(m.cfg.Brand), m.freshness())) + "\n"

	help := m.theme.Help.Render("r refresh • t trigger crawl • tab category • e export • q quit")

	if m.loading && len(m.rows) == 0 {
		return wrap.Render(header + "\n" + m.spin.View() + " 데이터를 불러오는 중...\n\n" + help)
	}
	if m.err != nil && len(m.rows) == 0 {
		body := m.theme.Error.Render("데이터를 불러오지 못했습니다") + "\n" + m.err.Error() + "\n\n" +
			m.theme.Help.Render("press r to retry")
		return wrap.Render(header + "\n" + m.theme.Card.Render(body) + "\n\n" + help)
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString(m.theme.Card.Render(m.statsLine()))
	b.WriteString("\n")
	b.WriteString(m.tbl.View())
	b.WriteString("\n")

	status := ""
	switch {
	case m.loading:
		status = m.spin.View() + " refreshing"
	case m.err != nil:
		status = m.theme.Error.Render("refresh failed: " + m.err.Error())
	case m.fallback:
		status = "history loaded per product (batch endpoint unavailable)"
	}
	if m.toast != "" {
		if status != "" {
			status += " · "
		}
		status += m.toast
	}
	if status != "" {
		b.WriteString(status + "\n")
	}
	b.WriteString(help)
	return wrap.Render(b.String())
}

func (m dashModel) statsLine() string {
	brands := map[string]struct{}{}
	var up, down, fresh int
	var newest time.Time
	for _, r := range m.rows {
		if knownBrand(r.BrandName) {
			brands[r.BrandName] = struct{}{}
		}
		if r.CollectedAt.After(newest) {
			newest = r.CollectedAt
		}
		switch {
		case r.IsNew:
			fresh++
		case r.Change != nil && r.Change.ChangeType == ChangeUp:
			up++
		case r.Change != nil:
			down++
		}
	}
	if m.health.LatestCollection != nil && newest.IsZero() {
		newest = *m.health.LatestCollection
	}
	return fmt.Sprintf("상품 %d · 브랜드 %d · 수집 %d회 · 마지막 업데이트 %s · ↑%d ↓%d NEW %d",
		len(m.rows), len(brands), m.health.TotalCollections, FormatKST(newest, m.cfg.Loc), up, down, fresh)
}

// freshness describes when the shown category was last collected and when the
// screen was last refreshed.
func (m dashModel) freshness() string {
	var parts []string
	if u, ok := m.updates[m.category()]; ok && u.LatestCollection != nil {
		parts = append(parts, "collected "+FormatKST(*u.LatestCollection, m.cfg.Loc))
	}
	if !m.loadedAt.IsZero() {
		parts = append(parts, "refreshed "+m.loadedAt.In(m.cfg.Loc).Format("15:04:05"))
	}
	if len(parts) == 0 {
		return ""
	}
	return " · " + strings.Join(parts, " · ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// exportRows writes wconcept_top{N}_{date}.csv and .json into dir.
func exportRows(dir string, rows []DashboardRow, now time.Time, loc *time.Location) ([]string, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("nothing to export")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := fmt.Sprintf("wconcept_top%d_%s", len(rows), now.In(loc).Format("2006-01-02"))

	write := func(name string, fn func(io.Writer) error) (string, error) {
		p := filepath.Join(dir, name)
		f, err := os.Create(p)
		if err != nil {
			return "", err
		}
		if err := fn(f); err != nil {
			f.Close()
			return "", err
		}
		return p, f.Close()
	}

	csvPath, err := write(base+".csv", func(w io.Writer) error { return WriteRowsCSV(w, rows, loc) })
	if err != nil {
		return nil, err
	}
	jsonPath, err := write(base+".json", func(w io.Writer) error { return WriteRowsJSON(w, rows) })
	if err != nil {
		return []string{csvPath}, err
	}
	return []string{csvPath, jsonPath}, nil
}

// safeDash keeps a panic in Update or View from leaving the terminal in alt-screen mode.
type safeDash struct {
	m dashModel
}

func (s safeDash) Init() tea.Cmd { return s.m.Init() }

func (s safeDash) Update(msg tea.Msg) (tm tea.Model, cmd tea.Cmd) {
	defer func() {
		if r := recover(); r != nil {
			s.m.cfg.Log.Errorf("dashboard panic in update: %v\n%s", r, debug.Stack())
			s.m.loading = false
			s.m.toast = "Unexpected error (see logs)"
			tm = s
			cmd = nil
		}
	}()

	inner, c := s.m.Update(msg)
	if mm, ok := inner.(dashModel); ok {
		s.m = mm
	}
	return s, c
}

func (s safeDash) View() (out string) {
	defer func() {
		if r := recover(); r != nil {
			s.m.cfg.Log.Errorf("dashboard panic in view: %v\n%s", r, debug.Stack())
			out = "Unexpected error (see logs)"
		}
	}()
	return s.m.View()
}

var _ tea.Model = safeDash{}
