package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"

	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/session"
)

const (
	viewHeader  = "header"
	viewFooter  = "footer"
	viewTasks   = "tasks"
	viewTrash   = "trash"
	viewHistory = "history"
	viewForm    = "form"
	viewHelp    = "help"
)

const (
	actionTimeout = 30 * time.Second
	historyLimit  = 50
)

// Board is the synchronized project state the terminal UI drives.
type Board interface {
	Visible() []model.Task
	Status() session.Status
	Highlighted(id int64) bool
	Trash() ([]model.Task, bool)
	SetFilter(ctx context.Context, criteria model.FilterCriteria) error
	Refresh(ctx context.Context) error
	Reconnect()
	CreateTask(ctx context.Context, input model.TaskInput) (model.Task, error)
	UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	FetchTrash(ctx context.Context) ([]model.Task, error)
	RestoreTask(ctx context.Context, id int64) (model.Task, error)
	Activity(ctx context.Context, limit int) ([]model.Activity, error)
	Open(ctx context.Context, projectID int64) error
	OnChange(fn func()) func()
}

// ProjectRecorder remembers the project opened from the board.
type ProjectRecorder func(projectID int64) error

type UI struct {
	board  Board
	record ProjectRecorder
	gui    *gocui.Gui
	now    func() time.Time

	// async runs blocking board calls off the gui goroutine.
	async func(func())

	state         session.Status
	tasks         []model.Task
	trash         []model.Task
	trashFetched  bool
	history       []model.Activity
	selectedTasks int
	selectedTrash int
	selectedHist  int

	focus      string
	status     string
	helpActive bool
	form       *formState
	formEditor *formEditor
}

type formState struct {
	task    *model.Task
	project bool
	fields  []formField
	index   int
}

type formEditor struct {
	ui *UI
}

// Run shows the board until the user quits. record may be nil.
func Run(board Board, record ProjectRecorder) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ui := newUI(board)
	ui.gui = gui
	ui.record = record
	ui.formEditor = &formEditor{ui: ui}

	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}

	unsubscribe := board.OnChange(func() {
		gui.Update(func(*gocui.Gui) error {
			ui.sync()
			return nil
		})
	})
	defer unsubscribe()

	ui.sync()

	if err := gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func newUI(board Board) *UI {
	ui := &UI{
		board: board,
		now:   time.Now,
		async: func(fn func()) { go fn() },
		focus: viewTasks,
	}
	ui.formEditor = &formEditor{ui: ui}
	return ui
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	global := []struct {
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyCtrlC, u.quit},
		{'q', u.quit},
		{'r', u.refresh},
		{'R', u.reconnect},
		{'o', u.openProject},
		{'a', u.addTask},
		{'e', u.editTask},
		{'d', u.deleteTask},
		{'x', u.cycleTaskStatus},
		{'s', u.cycleStatusFilter},
		{'p', u.cyclePriorityFilter},
		{'u', u.toggleAssigneeFilter},
		{'g', u.clearFilters},
		{'t', u.openTrash},
		{'h', u.refreshHistory},
		{'?', u.toggleHelp},
		{gocui.KeyTab, u.switchFocus},
		{'1', u.focusTasks},
		{'2', u.focusTrash},
		{'3', u.focusHistory},
	}
	for _, binding := range global {
		if err := gui.SetKeybinding("", binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}

	for _, name := range []string{viewTasks, viewTrash, viewHistory} {
		if err := gui.SetKeybinding(name, gocui.KeyArrowDown, gocui.ModNone, u.moveDown); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, 'j', gocui.ModNone, u.moveDown); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.KeyArrowUp, gocui.ModNone, u.moveUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, 'k', gocui.ModNone, u.moveUp); err != nil {
			return err
		}
	}
	if err := gui.SetKeybinding(viewTrash, gocui.KeyEnter, gocui.ModNone, u.restoreTask); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyEnter, gocui.ModNone, u.submitFormNow); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyTab, gocui.ModNone, u.nextFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyBacktab, gocui.ModNone, u.prevFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyArrowDown, gocui.ModNone, u.nextFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyArrowUp, gocui.ModNone, u.prevFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyEsc, gocui.ModNone, u.cancelForm); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewHelp, gocui.KeyEsc, gocui.ModNone, u.closeHelp); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewHelp, '?', gocui.ModNone, u.closeHelp); err != nil {
		return err
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.Wrap = true
	headerView.FgColor = gocui.ColorDefault
	u.renderHeader(headerView)

	footerY1 := max(maxY-2, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	footerView.BgColor = gocui.ColorDefault
	u.renderFooter(footerView)

	bodyTop := 2
	bodyBottom := footerY0 - 1
	if bodyBottom < bodyTop {
		return nil
	}

	layout := computeLayout(maxX, bodyBottom-bodyTop+1)
	leftX1 := layout.leftWidth - 1
	rightX0 := min(leftX1+1, maxX-1)
	trashY1 := bodyTop + layout.trashHeight - 1

	tasksView, err := gui.SetView(viewTasks, 0, bodyTop, leftX1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		tasksView.Title = "1 Tasks"
		tasksView.TitleColor = gocui.ColorGreen
	}
	applyViewStyle(tasksView, u.focus == viewTasks, true)
	u.renderTaskList(tasksView)

	trashView, err := gui.SetView(viewTrash, rightX0, bodyTop, maxX-1, trashY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		trashView.Title = "2 Trash"
		trashView.TitleColor = gocui.ColorRed
	}
	applyViewStyle(trashView, u.focus == viewTrash, true)
	u.renderTrash(trashView)

	historyView, err := gui.SetView(viewHistory, rightX0, trashY1+1, maxX-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		historyView.Title = "3 History"
	}
	applyViewStyle(historyView, u.focus == viewHistory, true)
	u.renderHistory(historyView)

	_, _ = gui.SetViewOnTop(viewHeader)
	_, _ = gui.SetViewOnTop(viewFooter)

	if u.form != nil {
		if err := u.showForm(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewForm)
	}

	if u.helpActive {
		if err := u.showHelp(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewHelp)
	}

	if gui.CurrentView() == nil {
		_, _ = gui.SetCurrentView(u.focus)
	}
	gui.Cursor = u.form != nil
	return nil
}

type layout struct {
	leftWidth   int
	trashHeight int
}

func computeLayout(width, height int) layout {
	safeWidth := max(width, 40)
	safeHeight := max(height, 8)

	leftWidth := safeWidth * 3 / 5
	if leftWidth > safeWidth-24 {
		leftWidth = safeWidth / 2
	}

	trashHeight := max(safeHeight/2, 4)
	if safeHeight-trashHeight < 4 {
		trashHeight = safeHeight - 4
	}

	return layout{leftWidth: leftWidth, trashHeight: trashHeight}
}

// sync pulls a fresh snapshot from the board. Runs on the gui goroutine.
func (u *UI) sync() {
	u.state = u.board.Status()
	u.tasks = u.board.Visible()
	u.trash, u.trashFetched = u.board.Trash()
	u.selectedTasks = clampIndex(u.selectedTasks, len(u.tasks))
	u.selectedTrash = clampIndex(u.selectedTrash, len(u.trash))
	u.loadHistory()
}

func (u *UI) loadHistory() {
	if u.state.ProjectID == 0 {
		u.history = nil
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	history, err := u.board.Activity(ctx, historyLimit)
	if err != nil {
		u.status = "history: " + err.Error()
		return
	}
	u.history = history
	u.selectedHist = clampIndex(u.selectedHist, len(u.history))
}

// run performs a blocking board call and reports its outcome on the gui
// goroutine.
func (u *UI) run(label string, fn func(ctx context.Context) error) {
	u.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		err := fn(ctx)
		cancel()
		u.post(func() {
			if err != nil {
				u.status = label + ": " + err.Error()
			} else {
				u.status = ""
			}
			u.sync()
		})
	})
}

func (u *UI) post(fn func()) {
	if u.gui == nil {
		fn()
		return
	}
	u.gui.Update(func(*gocui.Gui) error {
		fn()
		return nil
	})
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	fmt.Fprint(view, formatHeader(u.state))
	if u.state.LoadError != "" {
		fmt.Fprintf(view, "\nload failed: %s (r to retry)", u.state.LoadError)
	}
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	view.SetCursor(0, 0)

	fmt.Fprintln(view, "a add | e edit | d delete | x status | s/p/u filter | g clear | t trash | enter restore | h history")
	fmt.Fprintln(view, "o project | r refresh | R reconnect | tab cycle | 1-3 panes | ? help | q quit")
	switch {
	case u.status != "":
		fmt.Fprint(view, u.status)
	case u.state.Notice != "":
		fmt.Fprint(view, u.state.Notice)
	}
}

func (u *UI) renderTaskList(view *gocui.View) {
	view.Clear()
	focused := u.focus == viewTasks
	now := u.now()
	for i, task := range u.tasks {
		fmt.Fprintf(view, "%s %s\n", selectionPrefix(i == u.selectedTasks, focused), formatTaskSummary(task, u.board.Highlighted(task.ID), now))
	}
	if len(u.tasks) == 0 && u.state.Hydrated {
		fmt.Fprint(view, "  no tasks match the filter")
	}
	if focused {
		view.SetCursor(0, min(u.selectedTasks, max(len(u.tasks)-1, 0)))
	}
}

func (u *UI) renderTrash(view *gocui.View) {
	view.Clear()
	if !u.trashFetched {
		fmt.Fprint(view, "  t to load deleted tasks")
		return
	}
	focused := u.focus == viewTrash
	now := u.now()
	for i, task := range u.trash {
		fmt.Fprintf(view, "%s %s\n", selectionPrefix(i == u.selectedTrash, focused), formatTrashEntry(task, now))
	}
	if focused {
		view.SetCursor(0, min(u.selectedTrash, max(len(u.trash)-1, 0)))
	}
}

func (u *UI) renderHistory(view *gocui.View) {
	view.Clear()
	focused := u.focus == viewHistory
	now := u.now()
	for i, entry := range u.history {
		fmt.Fprintf(view, "%s %s\n", selectionPrefix(i == u.selectedHist, focused), formatActivity(entry, now))
	}
	if focused {
		view.SetCursor(0, min(u.selectedHist, max(len(u.history)-1, 0)))
	}
}

func selectionPrefix(selected, focused bool) string {
	if !selected {
		return " "
	}
	if focused {
		return ">"
	}
	return "*"
}

func (u *UI) selectedTask() *model.Task {
	if u.selectedTasks < 0 || u.selectedTasks >= len(u.tasks) {
		return nil
	}
	task := u.tasks[u.selectedTasks]
	return &task
}

func (u *UI) refresh(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.status = "refreshing..."
	u.run("refresh", u.board.Refresh)
	return nil
}

func (u *UI) reconnect(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.board.Reconnect()
	u.sync()
	return nil
}

func (u *UI) openProject(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.form = &formState{project: true, fields: buildProjectFields(u.state.ProjectID)}
	return nil
}

// switchProject opens projectID and forgets the panes of the previous one.
// The choice is recorded even when the first load fails, as r retries it.
func (u *UI) switchProject(projectID int64) {
	u.trash = nil
	u.trashFetched = false
	u.history = nil
	u.selectedTasks = 0
	u.selectedTrash = 0
	u.selectedHist = 0
	u.status = "opening..."
	u.run("open", func(ctx context.Context) error {
		err := u.board.Open(ctx, projectID)
		if goerrors.Is(err, session.ErrClosed) {
			return err
		}
		if u.record != nil {
			if recErr := u.record(projectID); recErr != nil && err == nil {
				err = goerrors.WrapPrefix(recErr, "remember project", 0)
			}
		}
		return err
	})
}

func (u *UI) addTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if u.state.ProjectID == 0 {
		u.status = session.ErrNoProject.Error()
		return nil
	}
	u.form = &formState{fields: buildFormFields(nil)}
	return nil
}

func (u *UI) editTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewTasks {
		return nil
	}
	task := u.selectedTask()
	if task == nil {
		return nil
	}
	if task.Optimistic {
		u.status = session.ErrUnconfirmed.Error()
		return nil
	}
	u.form = &formState{task: task, fields: buildFormFields(task)}
	return nil
}

func (u *UI) deleteTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewTasks {
		return nil
	}
	task := u.selectedTask()
	if task == nil {
		return nil
	}
	id := task.ID
	u.run("delete", func(ctx context.Context) error {
		return u.board.DeleteTask(ctx, id)
	})
	return nil
}

func (u *UI) cycleTaskStatus(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewTasks {
		return nil
	}
	task := u.selectedTask()
	if task == nil {
		return nil
	}
	id := task.ID
	patch := model.TaskPatch{Status: model.StringPtr(cycleValue(model.Statuses, task.Status, 1))}
	u.run("update", func(ctx context.Context) error {
		_, err := u.board.UpdateTask(ctx, id, patch)
		return err
	})
	return nil
}

func (u *UI) setFilter(criteria model.FilterCriteria) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := u.board.SetFilter(ctx, criteria); err != nil {
		u.status = "filter not saved: " + err.Error()
	} else {
		u.status = ""
	}
	u.selectedTasks = 0
	u.sync()
}

func (u *UI) cycleStatusFilter(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	criteria := u.state.Criteria
	criteria.Status = cycleOption(model.Statuses, criteria.Status)
	u.setFilter(criteria)
	return nil
}

func (u *UI) cyclePriorityFilter(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	criteria := u.state.Criteria
	criteria.Priority = cycleOption(model.Priorities, criteria.Priority)
	u.setFilter(criteria)
	return nil
}

// toggleAssigneeFilter narrows to the selected task's assignee, or clears
// the assignee filter when one is set.
func (u *UI) toggleAssigneeFilter(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	criteria := u.state.Criteria
	if criteria.AssignedTo != nil {
		criteria.AssignedTo = nil
		u.setFilter(criteria)
		return nil
	}
	task := u.selectedTask()
	if task == nil || task.AssignedTo == nil {
		u.status = "selected task has no assignee"
		return nil
	}
	criteria.AssignedTo = model.Int64Ptr(*task.AssignedTo)
	u.setFilter(criteria)
	return nil
}

func (u *UI) clearFilters(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.setFilter(model.FilterCriteria{})
	return nil
}

func (u *UI) openTrash(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.focus = viewTrash
	if gui != nil {
		_, _ = gui.SetCurrentView(u.focus)
	}
	u.run("trash", func(ctx context.Context) error {
		_, err := u.board.FetchTrash(ctx)
		return err
	})
	return nil
}

func (u *UI) restoreTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewTrash {
		return nil
	}
	if u.selectedTrash < 0 || u.selectedTrash >= len(u.trash) {
		return nil
	}
	id := u.trash[u.selectedTrash].ID
	u.run("restore", func(ctx context.Context) error {
		_, err := u.board.RestoreTask(ctx, id)
		return err
	})
	return nil
}

func (u *UI) refreshHistory(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.loadHistory()
	return nil
}

func (u *UI) switchFocus(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewTasks:
		return u.setFocus(gui, viewTrash)
	case viewTrash:
		return u.setFocus(gui, viewHistory)
	default:
		return u.setFocus(gui, viewTasks)
	}
}

func (u *UI) focusTasks(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewTasks)
}

func (u *UI) focusTrash(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewTrash)
}

func (u *UI) focusHistory(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewHistory)
}

func (u *UI) setFocus(gui *gocui.Gui, name string) error {
	if u.inputActive() {
		return nil
	}
	u.focus = name
	if gui != nil {
		_, _ = gui.SetCurrentView(name)
	}
	return nil
}

func (u *UI) moveDown(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewTasks:
		if u.selectedTasks < len(u.tasks)-1 {
			u.selectedTasks++
		}
	case viewTrash:
		if u.selectedTrash < len(u.trash)-1 {
			u.selectedTrash++
		}
	case viewHistory:
		if u.selectedHist < len(u.history)-1 {
			u.selectedHist++
		}
	}
	return nil
}

func (u *UI) moveUp(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewTasks:
		if u.selectedTasks > 0 {
			u.selectedTasks--
		}
	case viewTrash:
		if u.selectedTrash > 0 {
			u.selectedTrash--
		}
	case viewHistory:
		if u.selectedHist > 0 {
			u.selectedHist--
		}
	}
	return nil
}

func (u *UI) toggleHelp(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() && !u.helpActive {
		return nil
	}
	u.helpActive = !u.helpActive
	return nil
}

func (u *UI) closeHelp(gui *gocui.Gui, _ *gocui.View) error {
	u.helpActive = false
	if gui != nil {
		_ = gui.DeleteView(viewHelp)
		_, _ = gui.SetCurrentView(u.focus)
	}
	return nil
}

func (u *UI) showHelp(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := 18
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewHelp, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Help"
		view.Wrap = true
	}
	view.Clear()
	fmt.Fprint(view, helpText())
	_, _ = gui.SetCurrentView(viewHelp)
	return nil
}

func (u *UI) showForm(gui *gocui.Gui) error {
	if u.form == nil {
		return nil
	}

	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := 8
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewForm, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Wrap = true
	}
	switch {
	case u.form.project:
		view.Title = "Open Project"
	case u.form.task != nil:
		view.Title = fmt.Sprintf("Edit Task #%d", u.form.task.ID)
	default:
		view.Title = "New Task"
	}
	view.Editable = true
	view.KeybindOnEdit = true
	view.Editor = u.formEditor
	u.renderForm(view)
	_, _ = gui.SetCurrentView(viewForm)
	return nil
}

func (u *UI) submitFormNow(gui *gocui.Gui, _ *gocui.View) error {
	if u.form == nil {
		return nil
	}

	if u.form.project {
		projectID, err := parseProjectField(u.form.fields)
		if err != nil {
			u.status = err.Error()
			return nil
		}
		u.closeForm(gui)
		u.switchProject(projectID)
		return nil
	}

	input, err := parseFormFields(u.form.fields)
	if err != nil {
		u.status = err.Error()
		return nil
	}

	original := u.form.task
	u.closeForm(gui)

	if original == nil {
		u.run("create", func(ctx context.Context) error {
			_, err := u.board.CreateTask(ctx, input)
			return err
		})
		return nil
	}

	patch := patchFromInput(*original, input)
	if patchIsEmpty(patch) {
		u.status = ""
		return nil
	}
	id := original.ID
	u.run("update", func(ctx context.Context) error {
		_, err := u.board.UpdateTask(ctx, id, patch)
		return err
	})
	return nil
}

func (u *UI) cancelForm(gui *gocui.Gui, _ *gocui.View) error {
	u.closeForm(gui)
	return nil
}

func (u *UI) closeForm(gui *gocui.Gui) {
	u.form = nil
	if gui != nil {
		_ = gui.DeleteView(viewForm)
		_, _ = gui.SetCurrentView(u.focus)
	}
}

func (u *UI) nextFormField(_ *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index < len(u.form.fields)-1 {
		u.form.index++
	}
	u.renderForm(view)
	return nil
}

func (u *UI) prevFormField(_ *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index > 0 {
		u.form.index--
	}
	u.renderForm(view)
	return nil
}

func (u *UI) renderForm(view *gocui.View) {
	if u.form == nil || view == nil {
		return
	}
	view.Clear()
	for index, field := range u.form.fields {
		prefix := "  "
		if index == u.form.index {
			prefix = "> "
		}
		fmt.Fprintf(view, "%s%s: %s\n", prefix, field.Label, field.Value)
	}
	current := u.form.fields[u.form.index]
	cursorX := len([]rune(current.Label)) + len([]rune(current.Value)) + 4
	view.SetCursor(cursorX, u.form.index)
}

func (e *formEditor) Edit(view *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	ui := e.ui
	if ui == nil || ui.form == nil {
		return false
	}
	field := &ui.form.fields[ui.form.index]

	if options := cycleOptions(field.Label); options != nil {
		switch key {
		case gocui.KeyArrowRight, gocui.KeySpace:
			field.Value = cycleValue(options, field.Value, 1)
		case gocui.KeyArrowLeft:
			field.Value = cycleValue(options, field.Value, -1)
		}
		ui.renderForm(view)
		return true
	}

	switch key {
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		runes := []rune(field.Value)
		if len(runes) > 0 {
			field.Value = string(runes[:len(runes)-1])
		}
	case gocui.KeySpace:
		field.Value += " "
	case gocui.KeyCtrlU:
		field.Value = ""
	}

	if ch != 0 && ch != '\n' && ch != '\r' && mod == 0 {
		field.Value += string(ch)
	}

	ui.renderForm(view)
	return true
}

func cycleOptions(label string) []string {
	switch {
	case isStatusField(label):
		return model.Statuses
	case isPriorityField(label):
		return model.Priorities
	default:
		return nil
	}
}

func (u *UI) inputActive() bool {
	return u.form != nil || u.helpActive
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func helpText() string {
	return strings.Join([]string{
		"Navigation:",
		"  Tab cycle panes | 1 Tasks | 2 Trash | 3 History",
		"  j/k or arrows move selection",
		"",
		"Tasks:",
		"  a add | e edit | d delete | x cycle status",
		"  * marks a task that just changed | … marks a task still being created",
		"",
		"Filter:",
		"  s cycle status | p cycle priority | u selected task's assignee | g clear",
		"",
		"Trash:",
		"  t load deleted tasks | enter restore selected",
		"",
		"Connection:",
		"  o open another project (0 closes) | r refresh from server | R reconnect after retries run out",
		"",
		"Form:",
		"  tab/arrows next field | space/left/right cycle status and priority | enter save | esc cancel",
	}, "\n")
}

func applyViewStyle(view *gocui.View, focused bool, highlight bool) {
	view.Frame = true
	view.Highlight = focused && highlight
	view.HighlightInactive = false
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	view.InactiveViewSelBgColor = gocui.ColorDefault
	if focused {
		view.FrameColor = gocui.ColorCyan
		view.TitleColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
	}
}

func clampIndex(index, length int) int {
	if length == 0 || index < 0 {
		return 0
	}
	if index >= length {
		return length - 1
	}
	return index
}
