// Package srtconn implements the connection orchestrator (component
// C11): a single-threaded reactor tying the wire codec, handshake,
// crypto, send/receive engines, TSBPD, RTT, congestion/flow control,
// and timer wheel together behind a public Dial/Accept API. Modeled
// directly on the teacher's client2/connection.go reactor: a
// worker.Worker-embedding struct whose background goroutine loops on a
// select of HaltCh, a periodic tick, and channel-delivered work, with
// golang.org/x/sync/errgroup supervising the socket-read loop alongside
// it and gopkg.in/eapache/channels.v1 buffering application writes the
// reactor drains at its own pace.
package srtconn

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
	channels "gopkg.in/eapache/channels.v1"

	"github.com/opensrt/gosrt/config"
	"github.com/opensrt/gosrt/errs"
	"github.com/opensrt/gosrt/srtcc"
	"github.com/opensrt/gosrt/srtcrypto"
	"github.com/opensrt/gosrt/srtflow"
	"github.com/opensrt/gosrt/srthandshake"
	"github.com/opensrt/gosrt/srtrecv"
	"github.com/opensrt/gosrt/srtrtt"
	"github.com/opensrt/gosrt/srtsend"
	"github.com/opensrt/gosrt/srttimer"
	"github.com/opensrt/gosrt/srttsbpd"
	"github.com/opensrt/gosrt/srtwire"
	"github.com/opensrt/gosrt/udpsocket"
	"github.com/opensrt/gosrt/worker"
)

const reactorTick = 20 * time.Millisecond

// Conn is one established SRT connection: the C11 orchestrator.
type Conn struct {
	worker.Worker

	CorrelationID string
	Role          srthandshake.Role

	log *log.Logger

	socket   udpsocket.Socket
	peerAddr *net.UDPAddr
	cfg      config.Config

	localSocketID uint32
	peerSocketID  uint32
	state         srthandshake.State
	sessionOrigin time.Time

	send   *srtsend.Engine
	recv   *srtrecv.Engine
	tsbpd  *srttsbpd.Buffer
	rtt    *srtrtt.Estimator
	timers *srttimer.Wheel
	crypto *srtcrypto.Codec

	negotiatedLatencyUs uint32
	encryptionOn        bool
	lastDataTs          uint32 // timestamp of the latest accepted data packet, echoed in ACKs

	appSend *channels.InfiniteChannel
	appRecv *channels.InfiniteChannel

	eg     *errgroup.Group
	egCtx  context.Context
}

func newConn(role srthandshake.Role, socket udpsocket.Socket, peerAddr *net.UDPAddr, cfg config.Config, localSocketID uint32) *Conn {
	id := xid.New().String()
	c := &Conn{
		CorrelationID: id,
		Role:          role,
		log:           log.NewWithOptions(os.Stderr, log.Options{Prefix: "srtconn"}).With("conn", id),
		socket:        socket,
		peerAddr:      peerAddr,
		cfg:           cfg,
		localSocketID: localSocketID,
		state:         srthandshake.Init,
		timers:        srttimer.NewWheel(),
		appSend:       channels.NewInfiniteChannel(),
		appRecv:       channels.NewInfiniteChannel(),
	}
	return c
}

func (c *Conn) handshakeParams() srthandshake.Params {
	return srthandshake.Params{
		Version:          0x010405,
		EncryptionWanted: c.cfg.Encryption != config.EncryptionOff,
		PassphraseLen:    len(c.cfg.Passphrase),
		LatencyUs:        c.cfg.PlaybackDelayMs * 1000,
		MTU:              srthandshake.DefaultMTU,
		MaxFlowWindow:    c.cfg.InitialRecvWindowPackets,
		SocketID:         c.localSocketID,
	}
}

// Dial performs the Caller side of the two-phase handshake against addr
// and, on success, starts the connection's reactor.
func Dial(ctx context.Context, socket udpsocket.Socket, addr *net.UDPAddr, cfg config.Config, localSocketID uint32) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := socket.Connect(addr); err != nil {
		return nil, errs.NewTransportPersistent("dial", err)
	}
	c := newConn(srthandshake.Caller, socket, addr, cfg, localSocketID)

	params := c.handshakeParams()
	induction := srthandshake.BuildInduction(params)
	c.state = srthandshake.Induction

	respBody, err := c.roundTrip(ctx, induction)
	if err != nil {
		return nil, err
	}
	c.peerSocketID = respBody.SRTSocketID

	var saltAndKey *srtwire.SaltAndKey
	if params.EncryptionWanted {
		salt := make([]byte, 16)
		codec, skErr := srtcrypto.NewCodec(c.cfg.Passphrase, salt, srtcrypto.KeyBits(c.cfg.KeyBits()), c.cfg.KeyRefreshPackets)
		if skErr != nil {
			return nil, skErr
		}
		c.crypto = codec
		saltAndKey = &srtwire.SaltAndKey{Salt: salt}
	}

	conclusion, err := srthandshake.BuildConclusion(params, saltAndKey)
	if err != nil {
		return nil, err
	}
	c.state = srthandshake.Conclusion

	finalBody, err := c.roundTrip(ctx, conclusion)
	if err != nil {
		return nil, err
	}
	negotiated, err := srthandshake.ValidateResponse(finalBody, params.EncryptionWanted)
	if err != nil {
		return nil, err
	}

	c.finishHandshake(negotiated)
	c.send.NextSeq = conclusion.ISN // the peer's receive engine starts at this ISN
	c.run(ctx)
	return c, nil
}

// roundTrip sends body as a Conclusion/Induction handshake packet and
// waits for a Response, retrying at RetryInterval up to RetryBound
// (§4.2's bounded retry).
func (c *Conn) roundTrip(ctx context.Context, body srtwire.HandshakeBody) (srtwire.HandshakeBody, error) {
	deadline := time.Now().Add(srthandshake.RetryBound)
	buf := make([]byte, 2048)
	for {
		enc := srtwire.EncodeHandshakeBody(body)
		if _, err := c.socket.Send(enc); err != nil {
			return srtwire.HandshakeBody{}, errs.NewTransportTemporary("send handshake", err)
		}

		if err := c.socket.SetNonBlocking(true); err != nil {
			return srtwire.HandshakeBody{}, err
		}
		n, _, err := c.socket.Recv(buf)
		if err == nil {
			resp, decErr := srtwire.DecodeHandshakeBody(buf[:n])
			if decErr == nil {
				return resp, nil
			}
		}

		if time.Now().After(deadline) {
			return srtwire.HandshakeBody{}, errs.NewHandshake("handshake timed out")
		}
		select {
		case <-ctx.Done():
			return srtwire.HandshakeBody{}, errs.NewHandshake("handshake cancelled")
		case <-time.After(srthandshake.RetryInterval):
		}
	}
}

// Accept performs the Listener side of the handshake: it blocks waiting
// for an Induction, replies, waits for the Conclusion, validates it,
// replies with the negotiated Response, and starts the reactor.
func Accept(ctx context.Context, socket udpsocket.Socket, bindAddr *net.UDPAddr, cfg config.Config, localSocketID uint32) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := socket.Bind(bindAddr); err != nil {
		return nil, errs.NewTransportPersistent("bind", err)
	}

	buf := make([]byte, 2048)
	n, from, err := socket.Recv(buf)
	if err != nil {
		return nil, errs.NewTransportTemporary("recv induction", err)
	}
	induction, err := srtwire.DecodeHandshakeBody(buf[:n])
	if err != nil {
		return nil, errs.NewInvalidInput("decode induction", err)
	}

	c := newConn(srthandshake.Listener, socket, from, cfg, localSocketID)
	c.peerSocketID = induction.SRTSocketID
	c.state = srthandshake.Induction

	// Fix the peer now that it's known so the post-handshake reactor can
	// use the unqualified Send instead of SendTo for every data/control
	// packet; the handshake replies below pass the peer address to SendTo
	// explicitly.
	if err := socket.Connect(from); err != nil {
		return nil, errs.NewTransportPersistent("connect to peer", err)
	}

	params := c.handshakeParams()
	var peerIP [16]byte
	copy(peerIP[:], from.IP.To16())
	inductionResp := srthandshake.BuildInductionResponse(params, peerIP)
	if err := c.sendHandshake(inductionResp, from); err != nil {
		return nil, err
	}

	n, _, err = socket.Recv(buf)
	if err != nil {
		return nil, errs.NewTransportTemporary("recv conclusion", err)
	}
	conclusionBody, err := srtwire.DecodeHandshakeBody(buf[:n])
	if err != nil {
		return nil, errs.NewInvalidInput("decode conclusion", err)
	}
	c.state = srthandshake.Conclusion

	negotiatedLat, encOn, err := srthandshake.ValidateConclusion(conclusionBody, params.EncryptionWanted, params.LatencyUs)
	if err != nil {
		return nil, err
	}

	var saltAndKey *srtwire.SaltAndKey
	if encOn {
		raw, ok := conclusionBody.Extensions[srtwire.ExtEncryptionSaltKey]
		if !ok {
			return nil, errs.NewHandshake("encryption agreed but no salt/key extension present")
		}
		sk, decErr := srtwire.DecodeSaltAndKeyExt(raw)
		if decErr != nil {
			return nil, errs.NewCrypto("decode salt/key", decErr)
		}
		codec, skErr := srtcrypto.NewCodec(c.cfg.Passphrase, sk.Salt, srtcrypto.KeyBits(c.cfg.KeyBits()), c.cfg.KeyRefreshPackets)
		if skErr != nil {
			return nil, skErr
		}
		c.crypto = codec
		saltAndKey = &sk
	}

	response, err := srthandshake.BuildConclusionResponse(params, negotiatedLat, encOn, saltAndKey)
	if err != nil {
		return nil, err
	}
	if err := c.sendHandshake(response, from); err != nil {
		return nil, err
	}

	c.finishHandshake(srthandshake.Negotiated{
		PeerSocketID:    conclusionBody.SRTSocketID,
		NegotiatedLatUs: negotiatedLat,
		EncryptionOn:    encOn,
		PeerISN:         conclusionBody.ISN,
	})
	c.send.NextSeq = response.ISN // the peer's receive engine starts at this ISN
	c.run(ctx)
	return c, nil
}

func (c *Conn) sendHandshake(body srtwire.HandshakeBody, to *net.UDPAddr) error {
	enc := srtwire.EncodeHandshakeBody(body)
	if _, err := c.socket.SendTo(enc, to); err != nil {
		return errs.NewTransportTemporary("send handshake", err)
	}
	return nil
}

func (c *Conn) finishHandshake(n srthandshake.Negotiated) {
	c.peerSocketID = n.PeerSocketID
	c.negotiatedLatencyUs = n.NegotiatedLatUs
	c.encryptionOn = n.EncryptionOn
	c.state = srthandshake.Established
	c.sessionOrigin = time.Now()

	retransmitMin, retransmitMax := c.cfg.RetransmitTimeoutBounds()
	flow := srtflow.NewController(c.cfg.InitialSendWindowPackets, float64(c.cfg.MaxBandwidthBps), time.Now())
	cc := srtcc.NewState(int(c.cfg.MSSBytes))
	c.send = srtsend.NewEngine(int(c.cfg.MSSBytes), retransmitMin, retransmitMax, c.sessionOrigin, flow, cc)
	c.send.MaxRetransmits = int(c.cfg.MaxRetransmits)
	c.recv = srtrecv.NewEngine(n.PeerISN, c.cfg.InitialRecvWindowPackets)
	c.recv.AckFrequency = int(c.cfg.AckFrequencyPackets)
	// TSBPD's own base_wall/base_timestamp anchor lazily on the first
	// packet it receives (§4.6), not here: the connection's own
	// session-origin clock (above) only governs this side's outgoing
	// packet timestamps.
	c.tsbpd = srttsbpd.NewBuffer(n.NegotiatedLatUs)
	c.rtt = srtrtt.NewEstimator(srtrtt.DefaultMinRTO, srtrtt.DefaultMaxRTO)

	c.timers.Schedule(srttimer.Ack, "ack", reactorTick, time.Now(), nil)
	c.timers.Schedule(srttimer.Retx, "retx", retransmitMin, time.Now(), nil)
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() srthandshake.State { return c.state }

// sinceOrigin computes the 32-bit wrapping microsecond timestamp for now,
// relative to the connection's session origin (§3).
func (c *Conn) sinceOrigin(now time.Time) uint32 {
	return uint32(now.Sub(c.sessionOrigin).Microseconds())
}

// Write enqueues payload for sending; the reactor fragments, admits,
// and transmits it asynchronously.
func (c *Conn) Write(payload []byte) error {
	if c.state == srthandshake.Shutdown {
		return errs.NewClosed("write")
	}
	c.appSend.In() <- payload
	return nil
}

// Read returns the next reassembled (and, if live mode is enabled,
// TSBPD-released) payload, blocking until one is available or the
// connection closes.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case v, ok := <-c.appRecv.Out():
		if !ok {
			return nil, errs.NewClosed("read")
		}
		return v.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.HaltCh():
		return nil, errs.NewClosed("read")
	}
}

// run starts the reactor goroutine and, via errgroup, a supervised
// socket-receive loop feeding it.
func (c *Conn) run(ctx context.Context) {
	eg, egCtx := errgroup.WithContext(ctx)
	c.eg = eg
	c.egCtx = egCtx

	packets := make(chan []byte, 64)
	eg.Go(func() error {
		defer close(packets)
		buf := make([]byte, 65536)
		for {
			select {
			case <-c.HaltCh():
				return nil
			default:
			}
			if err := c.socket.SetNonBlocking(true); err != nil {
				return err
			}
			n, _, err := c.socket.Recv(buf)
			if err != nil {
				select {
				case <-c.HaltCh():
					return nil
				case <-time.After(time.Millisecond):
					continue
				}
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case packets <- cp:
			case <-c.HaltCh():
				return nil
			}
		}
	})

	c.Go(func() { c.reactor(packets) })
}

// reactor is the single-threaded event loop: every tick it drains
// incoming packets, application writes, due retransmits, TSBPD
// releases, and periodic ACK/NAK emission, mirroring the teacher's
// connectWorker select-loop shape.
func (c *Conn) reactor(packets <-chan []byte) {
	defer c.log.Debug("reactor terminating")
	ticker := time.NewTicker(reactorTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.HaltCh():
			c.state = srthandshake.Shutdown
			c.appRecv.Close()
			return
		case raw, ok := <-packets:
			if !ok {
				continue
			}
			c.onPacket(raw)
		case v, ok := <-c.appSend.Out():
			if !ok {
				continue
			}
			c.onAppWrite(v.([]byte))
		case now := <-ticker.C:
			c.onTick(now)
		}
	}
}

func (c *Conn) onAppWrite(payload []byte) {
	now := time.Now()
	packets := c.send.Fragment(payload, true, srtwire.KKNone, now)
	for _, pkt := range packets {
		c.transmit(pkt, now)
	}
}

func (c *Conn) transmit(pkt srtwire.DataPacket, now time.Time) {
	if c.crypto != nil {
		ciphertext, kk, err := c.crypto.Encrypt(pkt.Payload, pkt.Header.Seq)
		if err != nil {
			c.log.Error("encrypt failed", "err", err)
			return
		}
		pkt.Payload = ciphertext
		pkt.Header.KK = kk
	}
	if !c.send.Admit(pkt, now, c.rtt.RTO()) {
		return
	}
	enc, err := srtwire.EncodeDataPacket(pkt)
	if err != nil {
		c.log.Error("encode data packet failed", "err", err)
		return
	}
	if _, err := c.socket.Send(enc); err != nil {
		c.log.Error("send failed", "err", err)
	}
}

func (c *Conn) onPacket(raw []byte) {
	isCtrl, err := srtwire.IsControl(raw)
	if err != nil {
		return
	}
	if isCtrl {
		c.onControl(raw)
		return
	}
	c.onData(raw)
}

func (c *Conn) onData(raw []byte) {
	pkt, err := srtwire.DecodeDataPacket(raw)
	if err != nil {
		return
	}
	if c.crypto != nil && pkt.Header.KK != srtwire.KKNone {
		plaintext, decErr := c.crypto.Decrypt(pkt.Payload, pkt.Header.Seq, pkt.Header.KK)
		if decErr != nil {
			c.log.Error("decrypt failed", "err", decErr)
			return
		}
		pkt.Payload = plaintext
	}
	delivered, err := c.recv.Dispatch(pkt)
	if err != nil {
		return
	}
	c.lastDataTs = pkt.Header.Timestamp
	now := time.Now()
	for _, payload := range delivered {
		if c.tsbpd.LatencyUs > 0 {
			c.tsbpd.Push(pkt.Header.Seq, payload, pkt.Header.Timestamp, now)
		} else {
			c.appRecv.In() <- payload
		}
	}
	if c.recv.ShouldAck() {
		c.emitAck(now)
	}
}

func (c *Conn) emitAck(now time.Time) {
	cum, ok := c.recv.BuildAck()
	if !ok {
		return
	}
	h := srtwire.EncodeAckHeader(cum, c.sinceOrigin(now), c.peerSocketID)
	enc, err := srtwire.EncodeControlHeader(h)
	if err != nil {
		return
	}
	body := srtwire.EncodeAckBody(srtwire.AckBody{CumulativeSeq: cum, OriginTimestampEcho: c.lastDataTs})
	_, _ = c.socket.Send(append(enc, body...))
}

func (c *Conn) onControl(raw []byte) {
	h, err := srtwire.DecodeControlHeader(raw)
	if err != nil {
		return
	}
	switch h.Type {
	case srtwire.CtrlAck:
		ack := srtwire.DecodeAckBody(raw[srtwire.HeaderLen:])
		c.send.OnAck(srtwire.SeqNo(h.Info))
		if ack.OriginTimestampEcho != 0 {
			echoed := c.sessionOrigin.Add(time.Duration(ack.OriginTimestampEcho) * time.Microsecond)
			rttSample := time.Since(echoed)
			if rttSample > 0 {
				c.rtt.Sample(rttSample)
			}
		}
	case srtwire.CtrlNak:
		entries, decErr := srtwire.DecodeNakBody(raw[srtwire.HeaderLen:])
		if decErr != nil {
			return
		}
		resend := c.send.OnNak(entries, time.Now())
		for _, pkt := range resend {
			c.retransmit(pkt)
		}
	}
}

func (c *Conn) retransmit(pkt srtwire.DataPacket) {
	enc, err := srtwire.EncodeDataPacket(pkt)
	if err != nil {
		return
	}
	_, _ = c.socket.Send(enc)
}

// onTick drains the due entries of the timer wheel — §4.11 step 4's
// "drain timers" — dispatching each by kind, then separately drains
// TSBPD (timestamp-based release runs on every tick rather than through
// the wheel, since it is not one of C10's named timer kinds).
func (c *Conn) onTick(now time.Time) {
	for _, e := range c.timers.Tick(now) {
		switch e.Kind {
		case srttimer.Retx:
			c.fireRetx(now)
			c.timers.Schedule(srttimer.Retx, "retx", reactorTick, now, nil)
		case srttimer.Ack:
			c.fireAckNak(now)
			c.timers.Schedule(srttimer.Ack, "ack", reactorTick, now, nil)
		}
	}

	for _, released := range c.tsbpd.Ready(now) {
		c.appRecv.In() <- released
	}
}

func (c *Conn) fireRetx(now time.Time) {
	due, dropErr := c.send.DueRetransmits(now, c.rtt.RTO())
	for _, pkt := range due {
		c.retransmit(pkt)
	}
	if dropErr != nil {
		c.log.Error("retransmit exhausted", "err", dropErr)
	}
}

func (c *Conn) fireAckNak(now time.Time) {
	c.emitAck(now)
	for _, naks := range c.recv.NakEntries() {
		body := srtwire.EncodeNakBody(naks)
		h := srtwire.ControlHeader{Type: srtwire.CtrlNak, Timestamp: c.sinceOrigin(now), DestSockID: c.peerSocketID}
		enc, err := srtwire.EncodeControlHeader(h)
		if err != nil {
			continue
		}
		_, _ = c.socket.Send(append(enc, body...))
	}
}

// Close shuts down the connection: the reactor and receive-loop
// goroutines stop, pending application reads drain, and the socket is
// released.
func (c *Conn) Close() error {
	c.Halt()
	c.Wait()
	if c.eg != nil {
		_ = c.eg.Wait()
	}
	if c.crypto != nil {
		c.crypto.Destroy()
	}
	return c.socket.Close()
}
