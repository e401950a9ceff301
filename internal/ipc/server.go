package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"volumed/internal/audio"
	"volumed/internal/volume"
)

// Engine is the engine surface served over IPC.
type Engine interface {
	AdjustStreamVolume(stream audio.StreamType, dir audio.Direction, flags audio.Flags) error
	SetStreamVolume(stream audio.StreamType, index int, flags audio.Flags) error
	GetStreamVolume(stream audio.StreamType) (int, error)
	GetStreamMaxVolume(stream audio.StreamType) (int, error)
	GetLastAudibleStreamVolume(stream audio.StreamType) (int, error)
	SetStreamMute(stream audio.StreamType, state bool, caller audio.CallerID) error
	SetStreamSolo(stream audio.StreamType, state bool, caller audio.CallerID) error
	IsStreamMute(stream audio.StreamType) (bool, error)
	GetRingerMode() audio.RingerMode
	SetRingerMode(mode audio.RingerMode) error
	ShouldVibrate(t audio.VibrateType) (bool, error)
	GetVibrateSetting(t audio.VibrateType) (audio.VibrateSetting, error)
	SetVibrateSetting(t audio.VibrateType, setting audio.VibrateSetting) error
	SetSpeakerphoneOn(on bool)
	IsSpeakerphoneOn() bool
	SetBluetoothScoOn(on bool)
	IsBluetoothScoOn() bool
	OnDeviceEvent(ev audio.DeviceEvent) error
	ConnectedDevices() []volume.DeviceSnapshot
	SetNotificationLinkedToRing(linked bool)
	ReloadPersistedSettings()
	Snapshot() volume.Snapshot
}

// maxLine bounds one request line.
const maxLine = 64 * 1024

const (
	defaultRequestRate  = rate.Limit(200)
	defaultRequestBurst = 50
)

var errRateLimited = errors.New("rate limit exceeded")

// Server accepts IPC connections and dispatches requests to the engine.
type Server struct {
	engine   Engine
	liveness *Liveness
	logger   *slog.Logger

	// SocketMode is applied to the socket file after listening.
	SocketMode os.FileMode
	// RequestRate and RequestBurst limit each connection. Requests over the
	// limit get an error response and do not reach the engine.
	RequestRate  rate.Limit
	RequestBurst int

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(engine Engine, liveness *Liveness, logger *slog.Logger) *Server {
	return &Server{
		engine:       engine,
		liveness:     liveness,
		logger:       logger,
		SocketMode:   0o660,
		RequestRate:  defaultRequestRate,
		RequestBurst: defaultRequestBurst,
		conns:        make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on socketPath and serves until ctx is canceled.
// It removes a stale socket file first and the socket on exit.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, s.SocketMode); err != nil {
		listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.logger.Info("IPC listening", "socket", socketPath)
	return s.Serve(ctx, listener)
}

// Serve accepts on listener until ctx is canceled. Open connections are closed
// on the way out and Serve waits for their handlers.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = listener.Close()
		s.closeConns()
	}()

	defer s.wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("IPC listener closed")
				return nil
			}
			s.logger.Error("IPC accept error", "error", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	caller := audio.CallerID("ipc-" + uuid.NewString())
	s.liveness.open(caller)
	logger := s.logger.With("caller", string(caller))
	logger.Debug("IPC connection opened")

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.liveness.lost(caller)
		logger.Debug("IPC connection closed")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)
	encoder := json.NewEncoder(conn)
	limiter := rate.NewLimiter(s.RequestRate, s.RequestBurst)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		resp := s.respond(caller, line, limiter)
		if err := encoder.Encode(resp); err != nil {
			logger.Warn("IPC failed to send response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug("IPC read error", "error", err)
	}
}

func (s *Server) respond(caller audio.CallerID, line []byte, limiter *rate.Limiter) Response {
	if !limiter.Allow() {
		s.logger.Warn("IPC request dropped", "caller", string(caller), "error", errRateLimited)
		return errorResponse(errRateLimited)
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(fmt.Errorf("parse request: %w", err))
	}
	return s.dispatch(caller, req)
}

func errorResponse(err error) Response {
	return Response{Status: StatusError, Error: err.Error()}
}

func okResponse(data any) Response {
	if data == nil {
		return Response{Status: StatusOK}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return errorResponse(fmt.Errorf("marshal reply: %w", err))
	}
	return Response{Status: StatusOK, Data: b}
}

func decode[T any](req Request) (T, error) {
	var v T
	if len(req.Data) == 0 {
		return v, fmt.Errorf("%s: missing data", req.Type)
	}
	if err := json.Unmarshal(req.Data, &v); err != nil {
		return v, fmt.Errorf("%s: decode data: %w", req.Type, err)
	}
	return v, nil
}

func (s *Server) dispatch(caller audio.CallerID, req Request) Response {
	data, err := s.handle(caller, req)
	if err != nil {
		s.logger.Debug("IPC request failed", "type", req.Type, "caller", string(caller), "error", err)
		return errorResponse(err)
	}
	return okResponse(data)
}

func (s *Server) handle(caller audio.CallerID, req Request) (any, error) {
	e := s.engine
	switch req.Type {
	case TypePing:
		return PingReply{Caller: string(caller)}, nil

	case TypeAdjustVolume:
		r, err := decode[AdjustVolumeRequest](req)
		if err != nil {
			return nil, err
		}
		st, err := audio.ParseStreamType(r.Stream)
		if err != nil {
			return nil, err
		}
		dir, err := parseDirection(r.Direction)
		if err != nil {
			return nil, err
		}
		flags, err := audio.ParseFlags(r.Flags)
		if err != nil {
			return nil, err
		}
		if err := e.AdjustStreamVolume(st, dir, flags); err != nil {
			return nil, err
		}
		return s.volumeReply(st)

	case TypeSetVolume:
		r, err := decode[SetVolumeRequest](req)
		if err != nil {
			return nil, err
		}
		st, err := audio.ParseStreamType(r.Stream)
		if err != nil {
			return nil, err
		}
		flags, err := audio.ParseFlags(r.Flags)
		if err != nil {
			return nil, err
		}
		if err := e.SetStreamVolume(st, r.Index, flags); err != nil {
			return nil, err
		}
		return s.volumeReply(st)

	case TypeGetVolume:
		r, err := decode[StreamRequest](req)
		if err != nil {
			return nil, err
		}
		st, err := audio.ParseStreamType(r.Stream)
		if err != nil {
			return nil, err
		}
		return s.volumeReply(st)

	case TypeSetMute, TypeSetSolo:
		r, err := decode[MuteRequest](req)
		if err != nil {
			return nil, err
		}
		st, err := audio.ParseStreamType(r.Stream)
		if err != nil {
			return nil, err
		}
		if req.Type == TypeSetMute {
			err = e.SetStreamMute(st, r.State, caller)
		} else {
			err = e.SetStreamSolo(st, r.State, caller)
		}
		if err != nil {
			return nil, err
		}
		return s.volumeReply(st)

	case TypeGetRingerMode:
		return RingerModeReply{Mode: e.GetRingerMode().String()}, nil

	case TypeSetRingerMode:
		r, err := decode[RingerModeRequest](req)
		if err != nil {
			return nil, err
		}
		mode, err := audio.ParseRingerMode(r.Mode)
		if err != nil {
			return nil, err
		}
		if err := e.SetRingerMode(mode); err != nil {
			return nil, err
		}
		return RingerModeReply{Mode: e.GetRingerMode().String()}, nil

	case TypeGetVibrate, TypeSetVibrate:
		r, err := decode[VibrateRequest](req)
		if err != nil {
			return nil, err
		}
		vt, err := audio.ParseVibrateType(r.Type)
		if err != nil {
			return nil, err
		}
		if req.Type == TypeSetVibrate {
			setting, err := audio.ParseVibrateSetting(r.Setting)
			if err != nil {
				return nil, err
			}
			if err := e.SetVibrateSetting(vt, setting); err != nil {
				return nil, err
			}
		}
		return s.vibrateReply(vt)

	case TypeSetSpeakerphone, TypeSetBluetoothSco:
		r, err := decode[SwitchRequest](req)
		if err != nil {
			return nil, err
		}
		if req.Type == TypeSetSpeakerphone {
			e.SetSpeakerphoneOn(r.On)
		} else {
			e.SetBluetoothScoOn(r.On)
		}
		return CommRoutingReply{Speakerphone: e.IsSpeakerphoneOn(), BluetoothSco: e.IsBluetoothScoOn()}, nil

	case TypeGetCommRouting:
		return CommRoutingReply{Speakerphone: e.IsSpeakerphoneOn(), BluetoothSco: e.IsBluetoothScoOn()}, nil

	case TypeDeviceEvent:
		r, err := decode[DeviceEventRequest](req)
		if err != nil {
			return nil, err
		}
		class, err := audio.ParseDeviceClass(r.Device)
		if err != nil {
			return nil, err
		}
		err = e.OnDeviceEvent(audio.DeviceEvent{
			Class:     class,
			Connected: r.Connected,
			Address:   r.Address,
			Dock:      r.Dock,
			Name:      r.Name,
		})
		if err != nil {
			return nil, err
		}
		return e.ConnectedDevices(), nil

	case TypeGetDevices:
		return e.ConnectedDevices(), nil

	case TypeSetNotificationLink:
		r, err := decode[SwitchRequest](req)
		if err != nil {
			return nil, err
		}
		e.SetNotificationLinkedToRing(r.On)
		return nil, nil

	case TypeReload:
		e.ReloadPersistedSettings()
		return nil, nil

	case TypeSnapshot:
		return e.Snapshot(), nil

	default:
		return nil, fmt.Errorf("unknown request type: %q", req.Type)
	}
}

func (s *Server) volumeReply(st audio.StreamType) (VolumeReply, error) {
	index, err := s.engine.GetStreamVolume(st)
	if err != nil {
		return VolumeReply{}, err
	}
	top, err := s.engine.GetStreamMaxVolume(st)
	if err != nil {
		return VolumeReply{}, err
	}
	last, err := s.engine.GetLastAudibleStreamVolume(st)
	if err != nil {
		return VolumeReply{}, err
	}
	muted, err := s.engine.IsStreamMute(st)
	if err != nil {
		return VolumeReply{}, err
	}
	return VolumeReply{Stream: st.String(), Index: index, Max: top, LastAudible: last, Muted: muted}, nil
}

func (s *Server) vibrateReply(vt audio.VibrateType) (VibrateReply, error) {
	setting, err := s.engine.GetVibrateSetting(vt)
	if err != nil {
		return VibrateReply{}, err
	}
	should, err := s.engine.ShouldVibrate(vt)
	if err != nil {
		return VibrateReply{}, err
	}
	return VibrateReply{Type: vt.String(), Setting: setting.String(), ShouldVibrate: should}, nil
}
