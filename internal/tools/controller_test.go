package tools

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/drawr/internal/geometry"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
)

type recordingBroadcaster struct {
	mu      sync.Mutex
	shapes  []shapes.Shape
	deletes []shapes.ID
	err     error
}

func (b *recordingBroadcaster) SendShape(shape shapes.Shape) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shapes = append(b.shapes, shape)
	return b.err
}

func (b *recordingBroadcaster) SendDelete(id shapes.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, id)
	return b.err
}

type recordingPreviewer struct {
	previews []*shapes.Shape
}

func (p *recordingPreviewer) Preview(shape *shapes.Shape) {
	p.previews = append(p.previews, shape)
}

type testRig struct {
	store       *shapes.Store
	broadcaster *recordingBroadcaster
	previewer   *recordingPreviewer
	bus         *PointerBus
	controller  *Controller
}

func newTestRig(t *testing.T, tool Tool) *testRig {
	t.Helper()
	rig := &testRig{
		store:       shapes.NewStore(),
		broadcaster: &recordingBroadcaster{},
		previewer:   &recordingPreviewer{},
		bus:         NewPointerBus(),
	}
	controller, err := NewController(Config{
		Store:       rig.store,
		IDs:         shapes.NewIDGeneratorWithNonce(1),
		Broadcaster: rig.broadcaster,
		Previewer:   rig.previewer,
		Measurer:    FixedWidthMeasurer(10),
		Tool:        tool,
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}
	if err := controller.Start(rig.bus); err != nil {
		t.Fatalf("failed to start controller: %v", err)
	}
	t.Cleanup(controller.Stop)
	rig.controller = controller
	return rig
}

func (r *testRig) drag(fromX, fromY, toX, toY float64) {
	r.bus.Down(fromX, fromY)
	r.bus.Move(toX, toY)
	r.bus.Up(toX, toY)
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	ids := shapes.NewIDGeneratorWithNonce(1)
	if _, err := NewController(Config{IDs: ids, Broadcaster: broadcaster}); err == nil {
		t.Fatalf("expected missing store error")
	}
	if _, err := NewController(Config{Store: shapes.NewStore(), Broadcaster: broadcaster}); err == nil {
		t.Fatalf("expected missing id provider error")
	}
	if _, err := NewController(Config{Store: shapes.NewStore(), IDs: ids}); err == nil {
		t.Fatalf("expected missing broadcaster error")
	}
	invalid := geometry.ViewTransform{Scale: 0}
	if _, err := NewController(Config{Store: shapes.NewStore(), IDs: ids, Broadcaster: broadcaster, View: &invalid}); !errors.Is(err, geometry.ErrInvalidScale) {
		t.Fatalf("expected invalid scale error, got %v", err)
	}
}

func TestRectangleCommitNormalizesCorners(t *testing.T) {
	rig := newTestRig(t, ToolRectangle)
	rig.drag(50, 40, 10, 10)

	list := rig.store.List()
	if len(list) != 1 {
		t.Fatalf("expected one shape, got %d", len(list))
	}
	expected := shapes.Rectangle{X: 10, Y: 10, Width: 40, Height: 30, StrokeColor: DefaultStrokeColor}
	if list[0].Geometry != expected {
		t.Fatalf("unexpected rectangle %#v", list[0].Geometry)
	}
	if !list[0].ID.Assigned() {
		t.Fatalf("expected committed shape to carry an id")
	}
	if len(rig.broadcaster.shapes) != 1 || rig.broadcaster.shapes[0].ID != list[0].ID {
		t.Fatalf("expected one broadcast of the committed shape, got %#v", rig.broadcaster.shapes)
	}
	if rig.controller.State() != StateIdle {
		t.Fatalf("expected idle after pointer-up, got %s", rig.controller.State())
	}
}

func TestCircleCommitUsesDragAsDiameter(t *testing.T) {
	rig := newTestRig(t, ToolCircle)
	rig.drag(0, 0, 6, 8)

	circle, ok := rig.store.List()[0].Geometry.(shapes.Circle)
	if !ok {
		t.Fatalf("expected circle geometry")
	}
	if circle.CenterX != 3 || circle.CenterY != 4 || circle.Radius != 5 {
		t.Fatalf("unexpected circle %#v", circle)
	}
}

func TestLineCommitKeepsEndpoints(t *testing.T) {
	rig := newTestRig(t, ToolLine)
	rig.controller.SetStrokeColor("red")
	rig.drag(1, 2, 3, 4)

	expected := shapes.Line{StartX: 1, StartY: 2, EndX: 3, EndY: 4, StrokeColor: "red"}
	if got := rig.store.List()[0].Geometry; got != expected {
		t.Fatalf("unexpected line %#v", got)
	}
}

func TestPreviewDoesNotMutateStore(t *testing.T) {
	rig := newTestRig(t, ToolRectangle)
	rig.bus.Down(0, 0)
	rig.bus.Move(10, 10)
	rig.bus.Move(20, 20)

	if rig.store.Len() != 0 {
		t.Fatalf("expected preview to leave the store untouched")
	}
	if rig.controller.State() != StateDragging {
		t.Fatalf("expected dragging state, got %s", rig.controller.State())
	}
	if len(rig.previewer.previews) != 2 || rig.previewer.previews[1] == nil {
		t.Fatalf("expected two live previews, got %d", len(rig.previewer.previews))
	}
	rig.bus.Up(20, 20)
	last := rig.previewer.previews[len(rig.previewer.previews)-1]
	if last != nil {
		t.Fatalf("expected preview to be cleared on commit")
	}
}

func TestPencilStrokeCommitsBufferedPoints(t *testing.T) {
	rig := newTestRig(t, ToolPencil)
	rig.bus.Down(0, 0)
	rig.bus.Move(0, 0)
	rig.bus.Move(5, 5)
	rig.bus.Move(10, 0)
	rig.bus.Up(10, 0)

	list := rig.store.List()
	if len(list) != 1 {
		t.Fatalf("expected one pencil shape, got %d", len(list))
	}
	pencil := list[0].Geometry.(shapes.Pencil)
	expected := []shapes.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 0}}
	if !reflect.DeepEqual(pencil.Points, expected) {
		t.Fatalf("unexpected points %#v", pencil.Points)
	}
	if len(rig.controller.PendingPath()) != 0 {
		t.Fatalf("expected path buffer to be empty after commit")
	}
}

func TestPencilWithoutMovementCommitsNothing(t *testing.T) {
	rig := newTestRig(t, ToolPencil)
	rig.bus.Down(3, 3)
	rig.bus.Up(3, 3)

	if rig.store.Len() != 0 || len(rig.broadcaster.shapes) != 0 {
		t.Fatalf("expected empty pencil path to be discarded")
	}
}

func TestTextEntryCommitsMeasuredShape(t *testing.T) {
	rig := newTestRig(t, ToolText)
	rig.bus.Down(100, 50)
	rig.bus.Up(100, 50)

	anchor, open := rig.controller.PendingText()
	if !open || anchor != (shapes.Point{X: 100, Y: 50}) {
		t.Fatalf("expected open text entry at click, got %v %v", anchor, open)
	}
	shape, ok := rig.controller.CommitText("hello")
	if !ok {
		t.Fatalf("expected text to be committed")
	}
	expected := shapes.Text{X: 100, Y: 60, Width: 70, Height: 30, Text: "hello", StrokeColor: DefaultStrokeColor}
	if shape.Geometry != expected {
		t.Fatalf("unexpected text shape %#v", shape.Geometry)
	}
	if rig.store.Len() != 1 || len(rig.broadcaster.shapes) != 1 {
		t.Fatalf("expected text to be stored and broadcast")
	}
	if _, open := rig.controller.PendingText(); open {
		t.Fatalf("expected text entry to close after commit")
	}
}

func TestTextEntryIgnoresEmptyAndCancelled(t *testing.T) {
	rig := newTestRig(t, ToolText)
	rig.bus.Down(1, 1)
	if _, ok := rig.controller.CommitText("   "); ok {
		t.Fatalf("expected blank text to be ignored")
	}
	rig.bus.Down(1, 1)
	rig.controller.CancelText()
	if _, ok := rig.controller.CommitText("late"); ok {
		t.Fatalf("expected commit after cancel to be ignored")
	}
	if rig.store.Len() != 0 {
		t.Fatalf("expected no text shapes")
	}
}

func TestEraserBroadcastsDeletesForHits(t *testing.T) {
	rig := newTestRig(t, ToolEraser)
	near := shapes.Shape{ID: 1, Geometry: shapes.Circle{CenterX: 100, CenterY: 108, Radius: 8}}
	far := shapes.Shape{ID: 2, Geometry: shapes.Circle{CenterX: 100, CenterY: 200, Radius: 8}}
	rig.store.Apply(near)
	rig.store.Apply(far)

	rig.bus.Down(100, 100)
	rig.bus.Up(100, 100)

	if !reflect.DeepEqual(rig.broadcaster.deletes, []shapes.ID{1}) {
		t.Fatalf("unexpected delete broadcasts %v", rig.broadcaster.deletes)
	}
	list := rig.store.List()
	if len(list) != 1 || list[0].ID != 2 {
		t.Fatalf("expected only the far circle to remain, got %#v", list)
	}
	if rig.controller.State() != StateIdle {
		t.Fatalf("expected eraser not to enter a drag state")
	}
}

type applyingBroadcaster struct {
	recordingBroadcaster
	store   *shapes.Store
	arrival shapes.Shape
	once    sync.Once
}

func (b *applyingBroadcaster) SendDelete(id shapes.ID) error {
	b.once.Do(func() { b.store.Apply(b.arrival) })
	return b.recordingBroadcaster.SendDelete(id)
}

func TestEraserBroadcastsEveryShapeItRemoves(t *testing.T) {
	store := shapes.NewStore()
	broadcaster := &applyingBroadcaster{
		store:   store,
		arrival: shapes.Shape{ID: 99, Geometry: shapes.Line{StartX: 0, StartY: 100, EndX: 200, EndY: 100}},
	}
	controller, err := NewController(Config{
		Store:       store,
		IDs:         shapes.NewIDGeneratorWithNonce(1),
		Broadcaster: broadcaster,
		Measurer:    FixedWidthMeasurer(10),
		Tool:        ToolEraser,
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}
	bus := NewPointerBus()
	if err := controller.Start(bus); err != nil {
		t.Fatalf("failed to start controller: %v", err)
	}
	t.Cleanup(controller.Stop)

	store.Apply(shapes.Shape{ID: 1, Geometry: shapes.Circle{CenterX: 100, CenterY: 108, Radius: 8}})
	bus.Down(100, 100)

	if !reflect.DeepEqual(broadcaster.deletes, []shapes.ID{1}) {
		t.Fatalf("unexpected delete broadcasts %v", broadcaster.deletes)
	}
	list := store.List()
	if len(list) != 1 || list[0].ID != 99 {
		t.Fatalf("expected the shape applied during the erase to survive until a later click, got %#v", list)
	}
}

func TestEraserSkipsBroadcastForUnassignedIDs(t *testing.T) {
	rig := newTestRig(t, ToolEraser)
	rig.store.Apply(shapes.Shape{Geometry: shapes.Line{StartX: 0, StartY: 8, EndX: 20, EndY: 8}})

	rig.bus.Down(0, 0)
	if rig.store.Len() != 0 {
		t.Fatalf("expected the line to be erased locally")
	}
	if len(rig.broadcaster.deletes) != 0 {
		t.Fatalf("expected no broadcast for a shape without id")
	}
}

func TestBroadcastFailureKeepsLocalShape(t *testing.T) {
	rig := newTestRig(t, ToolLine)
	rig.broadcaster.err = errors.New("closed")
	rig.drag(0, 0, 1, 1)
	if rig.store.Len() != 1 {
		t.Fatalf("expected local commit to survive broadcast failure")
	}
}

func TestPanMovesOffsetWithoutShapes(t *testing.T) {
	rig := newTestRig(t, ToolPan)
	rig.bus.Down(10, 10)
	rig.bus.Move(15, 20)
	rig.bus.Move(25, 20)
	rig.bus.Up(25, 20)

	view := rig.controller.View()
	if view.OffsetX != 15 || view.OffsetY != 10 || view.Scale != 1 {
		t.Fatalf("unexpected view after pan %#v", view)
	}
	if rig.store.Len() != 0 || len(rig.broadcaster.shapes) != 0 {
		t.Fatalf("expected pan to create nothing")
	}
}

func TestPointerPositionsAreConvertedToWorld(t *testing.T) {
	rig := newTestRig(t, ToolLine)
	rig.controller.ZoomAt(2, 0, 0)
	rig.drag(10, 10, 30, 50)

	expected := shapes.Line{StartX: 5, StartY: 5, EndX: 15, EndY: 25, StrokeColor: DefaultStrokeColor}
	if got := rig.store.List()[0].Geometry; got != expected {
		t.Fatalf("unexpected world-space line %#v", got)
	}
}

func TestZoomStepsAreInverse(t *testing.T) {
	rig := newTestRig(t, ToolPencil)
	rig.controller.ZoomIn(40, 40)
	view := rig.controller.ZoomOut(40, 40)
	if diff := view.Scale - 1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected scale to return to 1, got %v", view.Scale)
	}
}

func TestStopReleasesPointerSubscription(t *testing.T) {
	rig := newTestRig(t, ToolRectangle)
	rig.controller.Stop()
	if rig.bus.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after stop")
	}
	rig.drag(0, 0, 5, 5)
	if rig.store.Len() != 0 {
		t.Fatalf("expected no shapes after stop")
	}
	if err := rig.controller.Start(rig.bus); err != nil {
		t.Fatalf("expected restart to succeed: %v", err)
	}
	if err := rig.controller.Start(rig.bus); err == nil {
		t.Fatalf("expected double start to fail")
	}
}

func TestSetToolAbandonsGesture(t *testing.T) {
	rig := newTestRig(t, ToolPencil)
	rig.bus.Down(0, 0)
	rig.bus.Move(1, 1)
	rig.controller.SetTool(ToolLine)
	rig.bus.Up(2, 2)
	if rig.store.Len() != 0 {
		t.Fatalf("expected switching tools to abandon the stroke")
	}
}

func TestParseTool(t *testing.T) {
	testCases := map[string]Tool{
		"1":      ToolPencil,
		"2":      ToolLine,
		"3":      ToolRectangle,
		"4":      ToolCircle,
		"5":      ToolText,
		"6":      ToolEraser,
		" Pan ":  ToolPan,
		"circle": ToolCircle,
	}
	for input, expected := range testCases {
		got, err := ParseTool(input)
		if err != nil || got != expected {
			t.Fatalf("ParseTool(%q) = %q, %v; want %q", input, got, err, expected)
		}
	}
	if _, err := ParseTool("7"); err == nil {
		t.Fatalf("expected unknown keybind to fail")
	}
}

func TestFontMeasurerGrowsWithText(t *testing.T) {
	measurer, err := NewFontMeasurer(DefaultFontSize)
	if err != nil {
		t.Fatalf("failed to load font: %v", err)
	}
	short := measurer.MeasureText("a")
	long := measurer.MeasureText("aaaa")
	if short <= 0 || long <= short {
		t.Fatalf("expected width to grow with text, got %v and %v", short, long)
	}
	if measurer.MeasureText("") != 0 {
		t.Fatalf("expected empty text to have zero width")
	}
}

func TestControllerMeasuresTextWithFontByDefault(t *testing.T) {
	store := shapes.NewStore()
	controller, err := NewController(Config{
		Store:       store,
		IDs:         shapes.NewIDGeneratorWithNonce(1),
		Broadcaster: &recordingBroadcaster{},
		Tool:        ToolText,
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}
	if _, ok := controller.measurer.(*FontMeasurer); !ok {
		t.Fatalf("expected font measurer by default, got %T", controller.measurer)
	}
	if DefaultMeasurer() != DefaultMeasurer() {
		t.Fatalf("expected the default measurer to be shared")
	}
}
