package agent

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

// Interrupt asks the CLI to stop the current query. Outstanding Query
// calls keep waiting for their responses.
func (s *Session) Interrupt(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	_, err := s.currentRouter().sendControl(ctx, protocol.NewInterrupt(), false)
	return err
}

// SetModel switches the model for subsequent queries.
func (s *Session) SetModel(ctx context.Context, model string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if model == "" {
		return &ConfigError{Message: "model cannot be empty"}
	}
	s.mu.Lock()
	s.state.Model = model
	s.mu.Unlock()
	s.info.Delete(serverInfoKey)

	_, err := s.currentRouter().sendControl(ctx, protocol.NewSetModel(model), false)
	return err
}

// SetPermissionMode changes the permission mode locally and on the CLI.
func (s *Session) SetPermissionMode(ctx context.Context, mode protocol.PermissionMode) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	mode, err := protocol.ParsePermissionMode(string(mode))
	if err != nil {
		return &ConfigError{Message: "permission mode", Cause: err}
	}
	s.mu.Lock()
	s.state.PermissionMode = mode
	s.mu.Unlock()
	s.perms.SetMode(mode)
	s.info.Delete(serverInfoKey)

	_, err = s.currentRouter().sendControl(ctx, protocol.NewSetPermissionMode(mode), false)
	return err
}

// UpdatePermissions applies a rule update to the session's evaluator.
// A setMode update also changes the session's permission mode.
func (s *Session) UpdatePermissions(u protocol.PermissionUpdate) error {
	if err := s.perms.UpdatePermissions(u); err != nil {
		return err
	}
	if u.Type == protocol.PermissionUpdateSetMode {
		s.mu.Lock()
		s.state.PermissionMode = s.perms.Mode()
		s.mu.Unlock()
	}
	return nil
}

// ServerInfo returns the CLI's reported state. Results are cached for the
// configured TTL; changing the model or permission mode, or reconnecting,
// drops the cache.
func (s *Session) ServerInfo(ctx context.Context) (map[string]interface{}, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if v, ok := s.info.Get(serverInfoKey); ok {
		if info, ok := v.(map[string]interface{}); ok {
			return maps.Clone(info), nil
		}
	}

	resp, err := s.currentRouter().sendControl(ctx, protocol.NewGetState(), true)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := "get_state failed"
		if resp.Message != nil {
			msg = *resp.Message
		}
		return nil, &ProtocolError{Message: msg}
	}

	info := map[string]interface{}{}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &info); err != nil {
			return nil, &ProtocolError{Message: "decode get_state data", Cause: err}
		}
	}
	s.info.SetDefault(serverInfoKey, info)
	return maps.Clone(info), nil
}
