package netproto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
	"fenrir/internal/exchange"
	"fenrir/internal/idmap"
)

const defaultNWorkers = 10

// Server is the NDJSON-over-TCP front end: it decodes one JSON object per
// line, dispatches to the coordinator, and writes one JSON object per line
// back.
type Server struct {
	address string
	port    int

	coordinator *exchange.Coordinator
	users       *idmap.UserMapper
	orderRefs   *idmap.OrderRefMapper

	pool   WorkerPool
	cancel context.CancelFunc
}

// New wires a server over a coordinator and the ID mappers it needs to
// translate external strings into internal dense IDs.
func New(address string, port int, coordinator *exchange.Coordinator, users *idmap.UserMapper, orderRefs *idmap.OrderRefMapper) *Server {
	return &Server{
		address:     address,
		port:        port,
		coordinator: coordinator,
		users:       users,
		orderRefs:   orderRefs,
		pool:        NewWorkerPool(defaultNWorkers),
	}
}

// Run starts the listener and blocks until ctx is cancelled or a fatal
// error occurs.
func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("netproto: unable to start listener")
		return
	}
	// Closing the listener on cancellation unblocks Accept below.
	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("netproto: unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("netproto: server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("netproto: error accepting client")
				continue
			}
			log.Info().Str("remote", conn.RemoteAddr().String()).Msg("netproto: new client")
			s.pool.AddTask(conn)
		}
	}
}

// Shutdown cancels the server's context, unblocking Run.
func (s *Server) Shutdown() {
	log.Info().Msg("netproto: server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// handleConnection owns one client connection for its entire lifetime:
// every line it sends is a request, every response is written back
// immediately. Unlike the teacher's one-message-per-task re-queue model,
// NDJSON's line framing lets a single worker own the whole connection,
// blocking only on that connection's own traffic. At most defaultNWorkers
// connections are served at once; further connections wait in the task
// queue until a worker is free.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return fmt.Errorf("netproto: improper task type %T", task)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("netproto: invalid json")
			s.writeResponse(writer, errorResponse("invalid json"))
			continue
		}

		resp := s.dispatch(req)
		s.writeResponse(writer, resp)
	}

	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("netproto: connection read error")
	}
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("netproto: client disconnected")
	return nil
}

func (s *Server) writeResponse(w *bufio.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("netproto: failed to marshal response")
		return
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}

func (s *Server) dispatch(req Request) Response {
	switch req.Type {
	case "ping":
		return okResponse()
	case "balance":
		return s.handleBalance(req)
	case "deposit":
		return s.handleDeposit(req)
	case "place_order":
		return s.handlePlaceOrder(req)
	case "cancel":
		return s.handleCancel(req)
	case "read":
		return s.handleRead(req)
	case "settle":
		return s.handleSettle(req)
	case "get_markets":
		return s.handleGetMarkets()
	default:
		return errorResponse("unknown type")
	}
}

func (s *Server) marketIDFromWire(w *MarketIDWire) (common.MarketID, error) {
	if w == nil {
		return common.MarketID{}, fmt.Errorf("missing market_id")
	}
	targetID := s.users.ToInternal(w.TargetUserID)
	return common.MarketID{TargetID: uint64(targetID), Threshold: w.Threshold}, nil
}

func (s *Server) handleBalance(req Request) Response {
	if req.UserID == "" {
		return errorResponse("missing user_id")
	}
	userID := s.users.ToInternal(req.UserID)
	bal := s.coordinator.Balance(userID)

	positions := make(map[string]int64, len(bal.Positions))
	for marketID, qty := range bal.Positions {
		if qty == 0 {
			continue
		}
		name, _ := s.users.ToExternal(common.UserID(marketID.TargetID))
		positions[fmt.Sprintf("%s_%d", name, marketID.Threshold)] = qty
	}

	return Response{
		Status:    "ok",
		Available: bal.Available.String(),
		Locked:    bal.Locked.String(),
		Positions: positions,
	}
}

func (s *Server) handleDeposit(req Request) Response {
	if req.UserID == "" {
		return errorResponse("missing user_id")
	}
	if req.AmountCents <= 0 {
		return errorResponse("amount_cents must be positive")
	}
	userID := s.users.ToInternal(req.UserID)
	s.coordinator.Deposit(userID, req.AmountCents)
	return Response{Status: "ok", Message: "deposit credited"}
}

func (s *Server) handlePlaceOrder(req Request) Response {
	if req.UserID == "" {
		return errorResponse("missing user_id")
	}
	marketID, err := s.marketIDFromWire(req.MarketID)
	if err != nil {
		return errorResponse(err.Error())
	}

	var side common.Side
	switch req.Side {
	case "buy":
		side = common.Buy
	case "sell":
		side = common.Sell
	default:
		return errorResponse("invalid side")
	}

	ref := req.OrderRef
	if ref == "" {
		ref = uuid.New().String()
	}
	orderID := s.orderRefs.Mint(ref)
	userID := s.users.ToInternal(req.UserID)

	result, err := s.coordinator.PlaceOrder(marketID, side, req.Price, req.Qty, orderID, userID)
	if err != nil {
		return errorResponse(err.Error())
	}

	return Response{
		Status:      "ok",
		Message:     "order placed",
		Trades:      len(result.Trades),
		RefundCents: result.RefundCents,
		OrderRef:    ref,
	}
}

func (s *Server) handleCancel(req Request) Response {
	if req.OrderRef == "" {
		return errorResponse("missing id")
	}
	orderID, ok := s.orderRefs.Lookup(req.OrderRef)
	if !ok {
		return errorResponse("unknown order reference")
	}

	_, found, err := s.coordinator.CancelOrder(orderID)
	if err != nil {
		return errorResponse(err.Error())
	}
	if !found {
		return errorResponse("order not found or already filled")
	}
	return Response{Status: "cancelled", Message: "order removed and funds released"}
}

func (s *Server) handleRead(req Request) Response {
	marketID, err := s.marketIDFromWire(req.MarketID)
	if err != nil {
		return errorResponse(err.Error())
	}
	snap := s.coordinator.SnapshotMarket(marketID)
	return Response{Status: "ok", Snapshot: &snap}
}

func (s *Server) handleSettle(req Request) Response {
	if req.TargetUserID == "" {
		return errorResponse("missing target_user_id")
	}
	targetID := s.users.ToInternal(req.TargetUserID)
	trades, err := s.coordinator.SettleMarketsFor(uint64(targetID), req.ActualValue)
	if err != nil {
		return errorResponse(err.Error())
	}
	return Response{Status: "ok", Message: "markets settled", Trades: len(trades)}
}

func (s *Server) handleGetMarkets() Response {
	infos := s.coordinator.ListMarkets()
	out := make([]MarketView, 0, len(infos))
	for _, info := range infos {
		name, _ := s.users.ToExternal(common.UserID(info.MarketID.TargetID))
		out = append(out, MarketView{
			TargetUserID: name,
			Threshold:    info.MarketID.Threshold,
			Name:         info.Name,
			BestBid:      info.BestBid,
			BestAsk:      info.BestAsk,
		})
	}
	return Response{Status: "ok", Markets: out}
}
