package app

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/Svillamizar05/metro/internal/journal"
	"github.com/Svillamizar05/metro/internal/protocol"
	"github.com/Svillamizar05/metro/internal/session"
)

// acceptRetryDelay keeps a persistent Accept error from spinning the CPU.
const acceptRetryDelay = 50 * time.Millisecond

// serveTCP accepts connections until ctx is done, then waits for every
// session to finish.
func (a *App) serveTCP(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { a.listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("accept: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.handleTCPClient(ctx, conn)
		}()
	}
}

func (a *App) handleTCPClient(ctx context.Context, conn net.Conn) {
	sess := session.New(conn, a.train, session.Options{
		WriteTimeout: a.cfg.WriteTimeout.Std(),
		Journal:      a.journal,
	})
	if err := a.registry.Register(sess); err != nil {
		log.Printf("reject %s: %v", sess.RemoteAddr(), err)
		if err := sess.Reject(protocol.ReplyServerFull); err == nil {
			a.journal.Emit(journal.Entry{
				Direction: journal.Outbound,
				Peer:      sess.RemoteAddr(),
				SessionID: sess.ID(),
				Line:      protocol.ReplyServerFull,
			})
		}
		return
	}
	log.Printf("client connected: %s session=%s clients=%d", sess.RemoteAddr(), sess.ID(), a.registry.Len())

	err := sess.Serve(ctx)
	a.registry.Unregister(sess.ID())
	if err != nil {
		log.Printf("client %s: %v", sess.RemoteAddr(), err)
	}
	log.Printf("client disconnected: %s session=%s clients=%d", sess.RemoteAddr(), sess.ID(), a.registry.Len())
}
