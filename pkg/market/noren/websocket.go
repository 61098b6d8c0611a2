package noren

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Tick is one touchline or depth update. Nil fields were not carried by the frame.
type Tick struct {
	Type     string
	Exchange string
	Token    string
	LP       *float64
	PC       *float64
	Volume   *float64
	Open     *float64
	High     *float64
	Low      *float64
	Close    *float64
	AvgPrice *float64
	OI       *float64
	PrevOI   *float64
	TotalOI  *float64
	BidQty   *float64
	BidPrice *float64
	AskQty   *float64
	AskPrice *float64
	FeedTime time.Time
}

// StreamClient dials the venue websocket with a session.
type StreamClient struct {
	URL          string
	UserID       string
	AccountID    string
	SessionToken string
	Heartbeat    time.Duration
	dialer       *websocket.Dialer
}

// NewStreamClient builds a websocket client for the given session.
func NewStreamClient(wsURL, userID, accountID, sessionToken string) *StreamClient {
	if accountID == "" {
		accountID = userID
	}
	return &StreamClient{
		URL:          wsURL,
		UserID:       userID,
		AccountID:    accountID,
		SessionToken: sessionToken,
		Heartbeat:    30 * time.Second,
		dialer:       websocket.DefaultDialer,
	}
}

// Stream is one authenticated websocket session.
type Stream struct {
	conn  *websocket.Conn
	ticks chan Tick
	done  chan struct{}
	wmu   sync.Mutex
	once  sync.Once
}

// Connect dials, authenticates, and starts the read and heartbeat loops.
// The tick channel is closed when the connection ends.
func (c *StreamClient) Connect(ctx context.Context) (*Stream, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial noren ws: %w", err)
	}

	s := &Stream{
		conn:  conn,
		ticks: make(chan Tick, 256),
		done:  make(chan struct{}),
	}

	if err := s.writeJSON(map[string]string{
		"t":          "c",
		"uid":        c.UserID,
		"actid":      c.AccountID,
		"susertoken": c.SessionToken,
		"source":     "API",
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("noren ws login: %w", err)
	}

	go s.readLoop(ctx)
	if c.Heartbeat > 0 {
		go s.heartbeat(ctx, c.Heartbeat)
	}
	return s, nil
}

// Ticks returns the decoded tick stream.
func (s *Stream) Ticks() <-chan Tick { return s.ticks }

// Done is closed when the session ends.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Subscribe requests touchline and depth updates for "EXCH|TOKEN" keys.
func (s *Stream) Subscribe(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	k := strings.Join(keys, "#")
	if err := s.writeJSON(map[string]string{"t": "t", "k": k}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"t": "d", "k": k})
}

// Unsubscribe stops touchline and depth updates for keys.
func (s *Stream) Unsubscribe(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	k := strings.Join(keys, "#")
	if err := s.writeJSON(map[string]string{"t": "u", "k": k}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"t": "ud", "k": k})
}

// Close ends the session.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.wmu.Lock()
		// Ignore errors; connection may already be closed.
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.wmu.Unlock()
		_ = s.conn.Close()
		close(s.done)
	})
}

func (s *Stream) writeJSON(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Stream) heartbeat(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-t.C:
			if err := s.writeJSON(map[string]string{"t": "h"}); err != nil {
				log.Printf("noren ws heartbeat error: %v", err)
				s.Close()
				return
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.ticks)
	defer s.Close()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, websocket.ErrCloseSent) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			log.Printf("noren ws read error: %v", err)
			return
		}

		tick, ok, err := ParseMessage(msg)
		if err != nil {
			log.Printf("noren ws parse error: %v", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.ticks <- tick:
		case <-s.done:
			return
		}
	}
}

type wireNum float64

func (n *wireNum) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("bad numeric %q", s)
	}
	*n = wireNum(f)
	return nil
}

type wireTick struct {
	T   string   `json:"t"`
	S   string   `json:"s"`
	E   string   `json:"e"`
	Tk  string   `json:"tk"`
	Lp  *wireNum `json:"lp"`
	Pc  *wireNum `json:"pc"`
	V   *wireNum `json:"v"`
	O   *wireNum `json:"o"`
	H   *wireNum `json:"h"`
	L   *wireNum `json:"l"`
	C   *wireNum `json:"c"`
	Ap  *wireNum `json:"ap"`
	Oi  *wireNum `json:"oi"`
	Poi *wireNum `json:"poi"`
	Toi *wireNum `json:"toi"`
	Bq1 *wireNum `json:"bq1"`
	Bp1 *wireNum `json:"bp1"`
	Sq1 *wireNum `json:"sq1"`
	Sp1 *wireNum `json:"sp1"`
	Ft  *wireNum `json:"ft"`
}

func ptr(n *wireNum) *float64 {
	if n == nil {
		return nil
	}
	v := float64(*n)
	return &v
}

// ParseMessage decodes one frame. ok is false for frames that carry no market data
// (login ack, heartbeat, order updates).
func ParseMessage(msg []byte) (Tick, bool, error) {
	var w wireTick
	if err := json.Unmarshal(msg, &w); err != nil {
		return Tick{}, false, err
	}
	switch w.T {
	case "tk", "tf", "dk", "df":
	case "ck":
		if !strings.EqualFold(w.S, "OK") {
			return Tick{}, false, fmt.Errorf("noren ws login rejected: %s", string(msg))
		}
		return Tick{}, false, nil
	default:
		return Tick{}, false, nil
	}
	if w.E == "" || w.Tk == "" {
		return Tick{}, false, nil
	}

	t := Tick{
		Type:     w.T,
		Exchange: strings.ToUpper(w.E),
		Token:    w.Tk,
		LP:       ptr(w.Lp),
		PC:       ptr(w.Pc),
		Volume:   ptr(w.V),
		Open:     ptr(w.O),
		High:     ptr(w.H),
		Low:      ptr(w.L),
		Close:    ptr(w.C),
		AvgPrice: ptr(w.Ap),
		OI:       ptr(w.Oi),
		PrevOI:   ptr(w.Poi),
		TotalOI:  ptr(w.Toi),
		BidQty:   ptr(w.Bq1),
		BidPrice: ptr(w.Bp1),
		AskQty:   ptr(w.Sq1),
		AskPrice: ptr(w.Sp1),
	}
	if w.Ft != nil {
		t.FeedTime = time.Unix(int64(*w.Ft), 0)
	}
	return t, true, nil
}
