package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cariusb-relay/internal/chatclient"
	"cariusb-relay/internal/config"
	"cariusb-relay/internal/conversation"
	"cariusb-relay/internal/domain"
)

// session es el estado del loop interactivo.
type session struct {
	cfg      *config.ClientConfig
	client   *chatclient.Client
	store    conversation.Store
	recorder *conversation.Recorder
	logger   *zap.Logger

	mode      domain.DomainMode
	convID    string
	sessionID string
	guestID   string
}

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewExample()
	defer logger.Sync()

	store, err := conversation.NewFileStore(cfg.StorePath, logger)
	if err != nil {
		log.Fatal(err)
	}

	clientCfg := chatclient.DefaultConfig(cfg.RelayURL)
	clientCfg.AccessToken = cfg.AccessToken
	clientCfg.Timeout = cfg.Timeout()

	s := &session{
		cfg:       cfg,
		client:    chatclient.New(clientCfg, logger),
		store:     store,
		recorder:  conversation.NewRecorder(store),
		logger:    logger,
		mode:      domain.NormalizeDomainMode(cfg.DomainMode),
		sessionID: uuid.NewString(),
		guestID:   cfg.GuestID,
	}
	if s.guestID == "" && cfg.AccessToken == "" {
		s.guestID = uuid.NewString()
	}

	fmt.Printf("Relay: %s | modo: %s | historial: %s\n", cfg.RelayURL, s.mode, store.Path())
	fmt.Println("Comandos: /mode <bicycle|auto|moto|tech>, /new, /history, /clear, /quit")

	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := s.command(ctx, line); quit {
				return
			}
			continue
		}
		if err := s.turn(ctx, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func (s *session) command(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/quit", "/exit":
		return true
	case "/new":
		s.convID = ""
		s.sessionID = uuid.NewString()
		fmt.Println("Nueva conversacion.")
	case "/mode":
		s.mode = domain.NormalizeDomainMode(arg)
		if s.convID != "" {
			if err := s.store.SetMode(ctx, s.convID, s.mode); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		}
		fmt.Printf("Modo: %s\n", s.mode)
	case "/history":
		s.printHistory(ctx)
	case "/clear":
		if err := s.store.Clear(ctx); err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		s.convID = ""
		fmt.Println("Historial borrado.")
	default:
		fmt.Println("Comando desconocido.")
	}
	return false
}

// turn envia un mensaje y vuelca la respuesta en la conversacion actual.
// Ctrl-C durante el turno lo aborta sin salir del programa.
func (s *session) turn(ctx context.Context, message string) error {
	if s.convID == "" {
		conv, err := s.store.Create(ctx, s.mode, message)
		if err != nil {
			return err
		}
		s.convID = conv.ID
	} else if err := s.store.AppendUserMessage(ctx, s.convID, message); err != nil {
		return err
	}

	req := domain.ChatRequest{
		Message:        message,
		SessionID:      s.sessionID,
		Lang:           s.cfg.Lang,
		Deepsearch:     deepsearchMode(s.cfg.Deepsearch),
		UserPlan:       planOrGuest(s.cfg.Plan),
		GuestID:        s.guestID,
		DomainMode:     s.mode,
		ConversationID: s.convID,
	}

	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	stream := s.client.Stream(turnCtx, req)
	go func() {
		<-turnCtx.Done()
		stream.Close()
	}()

	terminal, err := s.recorder.Record(ctx, s.convID, stream.All(), printEvent)
	if err != nil {
		return err
	}
	if terminal == nil {
		fmt.Println("\n(turno cancelado)")
		return nil
	}
	fmt.Println()
	s.logger.Debug("turn finished", zap.Int("attempts", stream.Attempts()), zap.String("conversation_id", s.convID))
	return nil
}

func printEvent(ev domain.Event) {
	switch e := ev.(type) {
	case domain.TextEvent:
		fmt.Print(e.Delta)
	case domain.ErrorEvent:
		if e.Transient {
			fmt.Printf("[%s]\n", e.Message)
			return
		}
		fmt.Printf("\n[error %s] %s", e.Code, e.Message)
	}
}

func (s *session) printHistory(ctx context.Context) {
	convs, err := s.store.List(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if len(convs) == 0 {
		fmt.Println("Sin conversaciones.")
		return
	}
	for _, c := range convs {
		marker := " "
		if c.ID == s.convID {
			marker = "*"
		}
		title := ""
		if len(c.Messages) > 0 {
			title = truncate(c.Messages[0].Content, 50)
		}
		fmt.Printf("%s %s [%s] %d mensajes  %s\n", marker, c.CreatedAt.Local().Format("2006-01-02 15:04"), c.Mode, len(c.Messages), title)
	}
	if s.convID == "" {
		return
	}
	current, err := s.store.Get(ctx, s.convID)
	if err != nil {
		return
	}
	fmt.Println("---")
	for _, m := range current.Messages {
		fmt.Printf("%s: %s\n", m.Role, m.Content)
	}
}

func planOrGuest(v string) domain.Plan {
	p := domain.Plan(strings.ToLower(strings.TrimSpace(v)))
	if !p.Valid() {
		return domain.PlanGuest
	}
	return p
}

func deepsearchMode(v string) domain.DeepsearchMode {
	switch m := domain.DeepsearchMode(strings.ToLower(strings.TrimSpace(v))); m {
	case domain.DeepsearchOn, domain.DeepsearchOff:
		return m
	}
	return domain.DeepsearchAuto
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
