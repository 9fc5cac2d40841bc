// Package session owns the lifecycle of one open room: snapshot bootstrap, the
// relay connection, presence and the pointer controller. Everything acquired by
// Open is released by Close or by the failing Open itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/drawr/internal/guest"
	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"github.com/MarcoPoloResearchLab/drawr/internal/syncclient"
	"github.com/MarcoPoloResearchLab/drawr/internal/tools"
	"go.uber.org/zap"
)

// Mode distinguishes relay-backed sessions from local guest sessions.
type Mode string

const (
	ModeLive  Mode = "live"
	ModeGuest Mode = "guest"
)

var (
	errMissingRoomID     = errors.New("session: room id is required")
	errMissingSnapshots  = errors.New("session: snapshot fetcher is required")
	errMissingRelayURL   = errors.New("session: relay url is required")
	errMissingPointer    = errors.New("session: pointer source is required")
	errMissingGuestSlug  = errors.New("session: guest slug is required")
	errMissingGuestStore = errors.New("session: guest store is required")
	errAlreadyOpened     = errors.New("session: already opened")
)

// Dialer opens the relay connection.
type Dialer func(ctx context.Context, relayURL, token string) (syncclient.Conn, error)

// GuestConfig switches a session to guest mode.
type GuestConfig struct {
	Store guest.Store
	Slug  string
}

// Config wires a room session.
type Config struct {
	RoomID         protocol.RoomID
	RelayURL       string
	Token          string
	Snapshots      SnapshotFetcher
	Dialer         Dialer
	FilterSelfEcho bool

	Pointer     tools.PointerSource
	Previewer   tools.Previewer
	Measurer    tools.TextMeasurer
	Tool        tools.Tool
	StrokeColor string

	Guest  *GuestConfig
	Logger *zap.Logger
}

// RoomSession is one open room view. A session owns its store exclusively.
type RoomSession struct {
	cfg    Config
	mode   Mode
	logger *zap.Logger
	store  *shapes.Store
	ids    *shapes.IDGenerator

	mu          sync.Mutex
	opened      bool
	closed      bool
	client      *syncclient.Client
	controller  *tools.Controller
	guestUser   guest.User
	persistence *guest.Persistence
	users       []string
	listeners   map[int64]func([]string)
	nextID      int64

	stopPresence func()
	cancelListen context.CancelFunc
	listenDone   chan struct{}
	listenErr    error
}

// New validates the configuration. Nothing is acquired until Open.
func New(cfg Config) (*RoomSession, error) {
	if cfg.Pointer == nil {
		return nil, errMissingPointer
	}
	mode := ModeLive
	if cfg.Guest != nil {
		mode = ModeGuest
		if cfg.Guest.Store == nil {
			return nil, errMissingGuestStore
		}
		if _, err := guest.RoomKey(cfg.Guest.Slug); err != nil {
			return nil, errMissingGuestSlug
		}
	} else {
		if cfg.RoomID == 0 {
			return nil, errMissingRoomID
		}
		if cfg.Snapshots == nil {
			return nil, errMissingSnapshots
		}
		if cfg.RelayURL == "" && cfg.Dialer == nil {
			return nil, errMissingRelayURL
		}
		if cfg.Dialer == nil {
			cfg.Dialer = syncclient.DialWebSocket
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomSession{
		cfg:        cfg,
		mode:       mode,
		logger:     logger.With(zap.String("mode", string(mode))),
		store:      shapes.NewStore(),
		ids:        shapes.NewIDGenerator(),
		listeners:  make(map[int64]func([]string)),
		listenDone: make(chan struct{}),
	}, nil
}

// Mode reports whether the session is live or guest.
func (s *RoomSession) Mode() Mode {
	return s.mode
}

// Store returns the session's shape store.
func (s *RoomSession) Store() *shapes.Store {
	return s.store
}

// Controller returns the pointer controller once the session is open.
func (s *RoomSession) Controller() *tools.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller
}

// GuestUser returns the guest identity of a guest session.
func (s *RoomSession) GuestUser() (guest.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guestUser, s.mode == ModeGuest && s.guestUser.ID != ""
}

// Persistence returns the guest persistence of a guest session.
func (s *RoomSession) Persistence() *guest.Persistence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistence
}

// Users returns the deduplicated presence list.
func (s *RoomSession) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

// OnUsers subscribes to presence changes.
func (s *RoomSession) OnUsers(callback func(users []string)) func() {
	s.mu.Lock()
	s.nextID++
	subscriptionID := s.nextID
	s.listeners[subscriptionID] = callback
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, subscriptionID)
		s.mu.Unlock()
	}
}

// Done is closed when the live read loop exits. It is closed by Close for guest sessions.
func (s *RoomSession) Done() <-chan struct{} {
	return s.listenDone
}

// Err returns the error that ended the read loop, if any.
func (s *RoomSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenErr
}

// Open enters the room. A snapshot failure is returned as is and nothing is retried.
func (s *RoomSession) Open(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return errAlreadyOpened
	}
	s.opened = true
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.mode == ModeGuest {
		return s.openGuest(ctx)
	}
	return s.openLive(ctx)
}

func (s *RoomSession) openLive(ctx context.Context) error {
	snapshot, err := s.cfg.Snapshots.FetchShapes(ctx, s.cfg.RoomID)
	if err != nil {
		s.logger.Error("snapshot fetch failed", zap.Int64("room_id", s.cfg.RoomID.Int64()), zap.Error(err))
		return fmt.Errorf("session: snapshot: %w", err)
	}
	if err := s.store.Initialize(snapshot); err != nil {
		return err
	}

	conn, err := s.cfg.Dialer(ctx, s.cfg.RelayURL, s.cfg.Token)
	if err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	client, err := syncclient.New(syncclient.Config{
		Conn:           conn,
		RoomID:         s.cfg.RoomID,
		Store:          s.store,
		Logger:         s.logger,
		FilterSelfEcho: s.cfg.FilterSelfEcho,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	s.mu.Lock()
	s.client = client
	s.stopPresence = client.OnPresence(s.publishUsers)
	s.mu.Unlock()

	if err := client.JoinRoom(); err != nil {
		return fmt.Errorf("session: join room: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelListen = cancel
	s.mu.Unlock()
	go s.listen(listenCtx, client)

	return s.startController(client)
}

func (s *RoomSession) openGuest(ctx context.Context) error {
	user, err := guest.GetOrCreateUser(ctx, s.cfg.Guest.Store)
	if err != nil {
		return err
	}
	persistence, err := guest.NewPersistence(s.cfg.Guest.Store, s.cfg.Guest.Slug, s.logger)
	if err != nil {
		return err
	}
	stored, err := persistence.Load(ctx)
	if err != nil {
		return fmt.Errorf("session: load guest drawings: %w", err)
	}
	if err := s.store.Initialize(stored); err != nil {
		return err
	}

	s.mu.Lock()
	s.guestUser = user
	s.persistence = persistence
	s.mu.Unlock()
	s.publishUsers(protocol.UniqueUsers([]string{user.Username}))

	return s.startController(persistence)
}

func (s *RoomSession) startController(broadcaster tools.Broadcaster) error {
	controller, err := tools.NewController(tools.Config{
		Store:       s.store,
		IDs:         s.ids,
		Broadcaster: broadcaster,
		Previewer:   s.cfg.Previewer,
		Measurer:    s.cfg.Measurer,
		Logger:      s.logger,
		Tool:        s.cfg.Tool,
		StrokeColor: s.cfg.StrokeColor,
	})
	if err != nil {
		return err
	}
	if err := controller.Start(s.cfg.Pointer); err != nil {
		return err
	}
	s.mu.Lock()
	s.controller = controller
	s.mu.Unlock()
	return nil
}

func (s *RoomSession) listen(ctx context.Context, client *syncclient.Client) {
	defer close(s.listenDone)
	err := client.Listen(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.mu.Lock()
		s.listenErr = err
		s.mu.Unlock()
	}
}

// Close releases pointer listeners, presence, the connection and the read loop.
// It is safe to call more than once.
func (s *RoomSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	controller := s.controller
	client := s.client
	stopPresence := s.stopPresence
	cancel := s.cancelListen
	s.listeners = make(map[int64]func([]string))
	s.mu.Unlock()

	if controller != nil {
		controller.Stop()
	}
	if stopPresence != nil {
		stopPresence()
	}
	if client != nil {
		if err := client.LeaveRoom(); err != nil {
			s.logger.Debug("leave room not delivered", zap.Error(err))
		}
		if err := client.Close(); err != nil {
			s.logger.Debug("connection close failed", zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
		<-s.listenDone
		return
	}
	close(s.listenDone)
}

func (s *RoomSession) publishUsers(users []string) {
	s.mu.Lock()
	s.users = users
	callbacks := make([]func([]string), 0, len(s.listeners))
	for _, callback := range s.listeners {
		callbacks = append(callbacks, callback)
	}
	s.mu.Unlock()

	for _, callback := range callbacks {
		callback(append([]string(nil), users...))
	}
}
