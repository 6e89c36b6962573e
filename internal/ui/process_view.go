package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/nwtools/netwatch/pkg/types"
)

// ProcessView is the per-process drill-down page: a selectable process
// list with the selected process's sockets and counters beside it.
type ProcessView struct {
	app         *tview.Application
	pages       *tview.Pages
	grid        *tview.Grid
	processList *tview.Table
	connTable   *tview.Table
	statsPanel  *tview.TextView

	procs       []types.ProcessRecord
	conns       []types.ConnectionRecord
	selectedPID int32
	filter      string
}

func NewProcessView(app *tview.Application) *ProcessView {
	pv := &ProcessView{
		app:         app,
		pages:       tview.NewPages(),
		processList: tview.NewTable(),
		connTable:   tview.NewTable(),
		statsPanel:  tview.NewTextView(),
	}

	pv.setupUI()
	return pv
}

func (pv *ProcessView) setupUI() {
	pv.processList.SetBorders(true).SetTitle(" Processes (↑↓ to select, / to filter) ")
	pv.processList.SetSelectable(true, false)
	pv.processList.SetSelectedStyle(tcell.StyleDefault.Background(tcell.ColorDarkBlue))

	pv.connTable.SetBorders(true).SetTitle(" Process Connections ")
	pv.connTable.SetFixed(1, 0)

	pv.statsPanel.SetBorder(true).SetTitle(" Process Network Stats ")
	pv.statsPanel.SetDynamicColors(true)

	pv.grid = tview.NewGrid().
		SetRows(0, 0).
		SetColumns(45, 0).
		AddItem(pv.processList, 0, 0, 2, 1, 0, 0, true).
		AddItem(pv.connTable, 0, 1, 1, 1, 0, 0, false).
		AddItem(pv.statsPanel, 1, 1, 1, 1, 0, 0, false)

	pv.setupEventHandlers()

	pv.pages.AddPage("process", pv.grid, true, true)
}

func (pv *ProcessView) setupEventHandlers() {
	pv.processList.SetSelectedFunc(func(row, column int) {
		if row > 0 {
			pidStr := pv.processList.GetCell(row, 0).Text
			pid, err := strconv.ParseInt(pidStr, 10, 32)
			if err == nil {
				pv.selectedPID = int32(pid)
				pv.updateProcessDetails()
			}
		}
	})

	pv.processList.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyRune && event.Rune() == '/' {
			pv.showFilterDialog()
			return nil
		}
		return event
	})
}

func (pv *ProcessView) showFilterDialog() {
	input := tview.NewInputField().
		SetLabel("Filter processes: ").
		SetFieldWidth(30).
		SetText(pv.filter)

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			pv.filter = input.GetText()
			pv.updateProcessList()
		}
		pv.pages.RemovePage("filter")
	})

	form := tview.NewForm().
		AddFormItem(input).
		SetBorder(true).
		SetTitle(" Filter Processes ").
		SetTitleAlign(tview.AlignCenter)

	pv.pages.AddPage("filter", form, true, true)
	pv.app.SetFocus(input)
}

func (pv *ProcessView) Update(procs []types.ProcessRecord, conns []types.ConnectionRecord) {
	pv.procs = procs
	pv.conns = conns
	pv.updateProcessList()
	if pv.selectedPID > 0 {
		pv.updateProcessDetails()
	}
}

func (pv *ProcessView) updateProcessList() {
	pv.processList.Clear()

	headers := []string{"PID", "Name", "In/s", "Out/s", "Conns"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetAttributes(tcell.AttrBold).
			SetAlign(tview.AlignCenter)
		pv.processList.SetCell(0, col, cell)
	}

	procs := make([]types.ProcessRecord, 0, len(pv.procs))
	for _, proc := range pv.procs {
		if pv.filter == "" ||
			strconv.FormatInt(int64(proc.PID), 10) == pv.filter ||
			strings.Contains(strings.ToLower(proc.Name), strings.ToLower(pv.filter)) {
			procs = append(procs, proc)
		}
	}

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].TotalRate() > procs[j].TotalRate()
	})

	for i, proc := range procs {
		row := i + 1

		pv.processList.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf("%d", proc.PID)))
		pv.processList.SetCell(row, 1, tview.NewTableCell(proc.Name))
		pv.processList.SetCell(row, 2, tview.NewTableCell(formatBytes(proc.BytesRecvRate)))
		pv.processList.SetCell(row, 3, tview.NewTableCell(formatBytes(proc.BytesSentRate)))
		pv.processList.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%d", proc.Connections)))
	}

	if pv.selectedPID == 0 && pv.processList.GetRowCount() > 1 {
		pv.processList.Select(1, 0)
	}
}

func (pv *ProcessView) updateProcessDetails() {
	pv.updateConnectionsTable()
	pv.updateStatsPanel()
}

func (pv *ProcessView) updateConnectionsTable() {
	pv.connTable.Clear()

	headers := []string{"Protocol", "Local", "Remote", "State", "RTT"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetAttributes(tcell.AttrBold)
		pv.connTable.SetCell(0, col, cell)
	}

	row := 1
	for i := range pv.conns {
		conn := &pv.conns[i]
		if conn.PID != pv.selectedPID {
			continue
		}

		rtt := "-"
		if conn.HasRTT() {
			rtt = fmt.Sprintf("%.1fms", conn.SocketInfo.RTT)
		}

		pv.connTable.SetCell(row, 0, tview.NewTableCell(string(conn.Protocol)))
		pv.connTable.SetCell(row, 1, tview.NewTableCell(conn.LocalAddr.String()))
		pv.connTable.SetCell(row, 2, tview.NewTableCell(conn.RemoteAddr.String()))
		pv.connTable.SetCell(row, 3, tview.NewTableCell(string(conn.State)))
		pv.connTable.SetCell(row, 4, tview.NewTableCell(rtt))
		row++
	}
}

func (pv *ProcessView) updateStatsPanel() {
	var proc *types.ProcessRecord
	for i := range pv.procs {
		if pv.procs[i].PID == pv.selectedPID {
			proc = &pv.procs[i]
			break
		}
	}

	if proc == nil {
		pv.statsPanel.SetText("No process selected")
		return
	}

	stats := fmt.Sprintf(`[yellow]Process:[white] %s (PID: %d)
[yellow]Command:[white] %s

[yellow]Network I/O:[white]
  Received:  %s/s
  Sent:      %s/s
  Total:     %s/s

[yellow]Connections:[white]
  Total:       %d
  Established: %d
  Listening:   %d

[yellow]Last updated:[white] %s`,
		proc.Name, proc.PID,
		proc.Command,
		formatBytes(proc.BytesRecvRate),
		formatBytes(proc.BytesSentRate),
		formatBytes(proc.TotalRate()),
		proc.Connections,
		proc.Established,
		proc.Listening,
		proc.LastUpdated.Format("15:04:05"),
	)

	pv.statsPanel.SetText(stats)
}

func (pv *ProcessView) GetPages() *tview.Pages {
	return pv.pages
}
