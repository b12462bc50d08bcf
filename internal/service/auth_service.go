package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/realtime"
	"github.com/prperemyshlev/chatsync/internal/repository"
	"github.com/prperemyshlev/chatsync/internal/session"
	"github.com/prperemyshlev/chatsync/internal/utils"
	"go.uber.org/zap"
)

// authService implements AuthService interface
type authService struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	api       AuthAPI
	channel   RealtimeChannel
	sync      SyncState
	gen       *session.Generation
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu              sync.Mutex
	authenticatedAt time.Time

	rejections atomic.Int32
	wg         sync.WaitGroup
	unwatch    func()
}

// NewAuthService creates a new auth service. It watches the channel for credential
// rejections and tries one token refresh before ending the session.
func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	api AuthAPI,
	channel RealtimeChannel,
	syncState SyncState,
	gen *session.Generation,
	timeout time.Duration,
	logger *zap.Logger,
) AuthService {
	s := &authService{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		api:       api,
		channel:   channel,
		sync:      syncState,
		gen:       gen,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
	s.unwatch = channel.OnStateChange(s.onChannelState)
	return s
}

// Login authenticates with the backend and persists the new session
func (s *authService) Login(ctx context.Context, req dto.LoginRequest) dto.Result[*dto.LoginData] {
	return dto.Guard(s.logger, "login", func() dto.Result[*dto.LoginData] {
		phone := utils.SanitizePhone(req.Phone)
		if !utils.ValidatePhone(phone) {
			return dto.Fail[*dto.LoginData](dto.ErrCodeBadRequest, "invalid phone number")
		}
		if req.Password == "" {
			return dto.Fail[*dto.LoginData](dto.ErrCodeBadRequest, "password is required")
		}
		if !utils.ValidateOTP(req.OTP) {
			return dto.Fail[*dto.LoginData](dto.ErrCodeBadRequest, "invalid one-time code")
		}

		gen := s.gen.Advance()
		resp, err := s.api.Login(ctx, dto.LoginRequest{Phone: phone, Password: req.Password, OTP: req.OTP})
		if err != nil {
			s.logger.Warn("Login request failed", zap.String("phone", phone), zap.Error(err))
			return dto.FailFromError[*dto.LoginData](err)
		}
		if !resp.Success {
			code := resp.ErrorCode
			if code == 0 {
				code = dto.ErrCodeUnauthorized
			}
			return dto.Fail[*dto.LoginData](code, resp.Message)
		}

		// a partial success is useless: a session needs the user and both tokens
		tokens := domain.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
		if resp.User == nil || !tokens.Complete() {
			s.logger.Error("Login response is incomplete",
				zap.Bool("has_user", resp.User != nil),
				zap.Bool("has_access_token", resp.AccessToken != ""),
				zap.Bool("has_refresh_token", resp.RefreshToken != ""),
			)
			return dto.Fail[*dto.LoginData](dto.ErrCodeInternal, "login response is incomplete")
		}

		user := resp.User.Sanitized()
		if user.ID == "" {
			if claims, err := utils.ParseAccessToken(tokens.AccessToken); err == nil {
				user.ID = claims.UserID
			}
		}

		var failed *dto.Result[*dto.LoginData]
		applied := s.gen.Guard(gen, func() {
			if !s.userRepo.Save(ctx, user) {
				res := dto.Fail[*dto.LoginData](dto.ErrCodeInternal, "failed to persist user")
				failed = &res
				return
			}
			if !s.tokenRepo.Save(ctx, tokens) {
				if err := s.userRepo.Clear(ctx); err != nil {
					s.logger.Warn("Failed to roll back cached user", zap.Error(err))
				}
				res := dto.Fail[*dto.LoginData](dto.ErrCodeInternal, "failed to persist tokens")
				failed = &res
				return
			}

			s.mu.Lock()
			s.authenticatedAt = s.now()
			s.mu.Unlock()
			s.sync.Start(user.ID)

			if err := s.channel.Connect(ctx, tokens.AccessToken); err != nil {
				s.logger.Warn("Failed to open realtime channel after login", zap.Error(err))
			}
		})
		if !applied {
			return dto.FailFromError[*dto.LoginData](domain.ErrSessionChanged)
		}
		if failed != nil {
			return *failed
		}

		s.logger.Info("User logged in", zap.String("user_id", user.ID))
		return dto.Ok(&dto.LoginData{User: user, Tokens: tokens}, "Login successful")
	})
}

// Logout ends the session. Calling it without a session succeeds.
func (s *authService) Logout(ctx context.Context) dto.Result[struct{}] {
	return dto.Guard(s.logger, "logout", func() dto.Result[struct{}] {
		s.gen.Advance()

		if err := s.userRepo.Clear(ctx); err != nil {
			s.logger.Warn("Failed to clear cached user", zap.Error(err))
		}
		if err := s.tokenRepo.Clear(ctx); err != nil {
			s.logger.Warn("Failed to clear stored tokens", zap.Error(err))
		}
		s.channel.Disconnect()
		s.sync.Reset()

		s.mu.Lock()
		s.authenticatedAt = time.Time{}
		s.mu.Unlock()

		s.logger.Info("User logged out")
		return dto.Ok(struct{}{}, "Logged out")
	})
}

// IsAuthenticated reports whether an access token is stored
func (s *authService) IsAuthenticated(ctx context.Context) bool {
	tokens := s.tokenRepo.Get(ctx, false)
	return tokens != nil && tokens.AccessToken != ""
}

// Session returns a snapshot of the current session, or nil when signed out
func (s *authService) Session(ctx context.Context) *domain.Session {
	tokens := s.tokenRepo.Get(ctx, false)
	if tokens == nil || tokens.AccessToken == "" {
		return nil
	}

	sess := &domain.Session{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}
	if user := s.userRepo.Get(ctx, false); user != nil {
		sess.UserID = user.ID
	} else if claims, err := utils.ParseAccessToken(tokens.AccessToken); err == nil {
		sess.UserID = claims.UserID
	}

	s.mu.Lock()
	sess.AuthenticatedAt = s.authenticatedAt
	s.mu.Unlock()
	return sess
}

// RefreshSession rotates the tokens and reconnects the channel with the new access token.
// A rejected refresh token ends the session.
func (s *authService) RefreshSession(ctx context.Context) dto.Result[*domain.TokenPair] {
	return dto.Guard(s.logger, "refresh_session", func() dto.Result[*domain.TokenPair] {
		gen := s.gen.Current()
		current := s.tokenRepo.Get(ctx, true)
		if current == nil || current.RefreshToken == "" {
			return dto.FailFromError[*domain.TokenPair](domain.ErrNotAuthenticated)
		}

		resp, err := s.api.Refresh(ctx, current.RefreshToken)
		if err == nil && !resp.Success && resp.ErrorCode == dto.ErrCodeUnauthorized {
			err = domain.ErrUnauthorized
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			if !s.gen.Valid(gen) {
				return dto.FailFromError[*domain.TokenPair](domain.ErrSessionChanged)
			}
			s.logger.Warn("Refresh token rejected, ending session")
			s.Logout(ctx)
			return dto.FailFromError[*domain.TokenPair](err)
		}
		if err != nil {
			s.logger.Warn("Token refresh failed", zap.Error(err))
			return dto.FailFromError[*domain.TokenPair](err)
		}
		if !resp.Success || resp.AccessToken == "" {
			return dto.Fail[*domain.TokenPair](dto.ErrCodeInternal, "refresh response is incomplete")
		}

		tokens := domain.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = current.RefreshToken
		}

		saved := false
		applied := s.gen.Guard(gen, func() {
			if saved = s.tokenRepo.Save(ctx, tokens); !saved {
				return
			}
			if resp.User != nil {
				cached := s.userRepo.Get(ctx, false)
				if merged := cached.MergeFrom(resp.User); merged.IsComplete() {
					s.userRepo.Save(ctx, merged)
				}
			}

			s.mu.Lock()
			s.authenticatedAt = s.now()
			s.mu.Unlock()

			if err := s.channel.Connect(ctx, tokens.AccessToken); err != nil {
				s.logger.Warn("Failed to reconnect realtime channel after refresh", zap.Error(err))
			}
		})
		if !applied {
			return dto.FailFromError[*domain.TokenPair](domain.ErrSessionChanged)
		}
		if !saved {
			return dto.Fail[*domain.TokenPair](dto.ErrCodeInternal, "failed to persist tokens")
		}

		s.logger.Info("Session refreshed")
		return dto.Ok(&tokens, "Session refreshed")
	})
}

// Close stops watching the channel and waits for pending recovery attempts
func (s *authService) Close() {
	s.unwatch()
	s.wg.Wait()
}

func (s *authService) onChannelState(sc realtime.StateChange) {
	switch {
	case sc.To == realtime.Connected:
		s.rejections.Store(0)
	case sc.To == realtime.Disconnected && errors.Is(sc.Err, domain.ErrUnauthorized):
		attempt := s.rejections.Add(1)
		s.wg.Add(1)
		// handlers run on the channel's dispatcher and must not block
		go s.recoverSession(attempt)
	}
}

// recoverSession refreshes the tokens once after a rejection; a repeated rejection
// or a failed refresh of any kind ends the session
func (s *authService) recoverSession(attempt int32) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	gen := s.gen.Current()
	if attempt == 1 {
		res := s.RefreshSession(ctx)
		if res.Success {
			return
		}
		s.logger.Warn("Session recovery failed", zap.String("message", res.Message), zap.Int("code", res.ErrorCode))
	}
	if !s.gen.Valid(gen) {
		// the refresh already ended the session, or another one started
		return
	}

	s.logger.Warn("Realtime channel rejected credentials, ending session", zap.Int32("attempt", attempt))
	s.Logout(ctx)
}
