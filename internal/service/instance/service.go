package instance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

var (
	ErrInvalidName    = errors.New("nome da instância inválido")
	ErrInvalidBackend = errors.New("endereço de backend inválido")
)

// Service cuida do ciclo de vida das instâncias na plataforma: cadastro,
// token de autenticação do gateway, override de backend e remoção com
// limpeza dos registros associados.
type Service struct {
	repo          storage.InstanceRepository
	queueRepo     storage.QueueRepository
	eventLogRepo  storage.EventLogRepository
	heartbeatRepo storage.HeartbeatRepository
	breakerRepo   storage.BreakerRepository
}

func NewService(repo storage.InstanceRepository, queueRepo storage.QueueRepository, eventLogRepo storage.EventLogRepository, heartbeatRepo storage.HeartbeatRepository, breakerRepo storage.BreakerRepository) *Service {
	return &Service{
		repo:          repo,
		queueRepo:     queueRepo,
		eventLogRepo:  eventLogRepo,
		heartbeatRepo: heartbeatRepo,
		breakerRepo:   breakerRepo,
	}
}

type CreateInput struct {
	Name         string
	OwnerUserID  string
	BackendURL   string
	BackendToken string
}

type CreateOutput struct {
	Instance model.Instance
	// Token em claro, exibido uma única vez: só o hash é persistido.
	PlainToken string
}

func (s *Service) Create(ctx context.Context, input CreateInput) (CreateOutput, error) {
	if strings.TrimSpace(input.Name) == "" {
		return CreateOutput{}, ErrInvalidName
	}
	backendURL := strings.TrimSpace(input.BackendURL)
	if backendURL != "" && !strings.HasPrefix(backendURL, "http") {
		return CreateOutput{}, ErrInvalidBackend
	}

	plainToken := uuid.NewString()

	instance := model.Instance{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(input.Name),
		OwnerUserID:  input.OwnerUserID,
		Status:       model.InstanceStatusAwaitingBackend,
		BackendURL:   backendURL,
		BackendToken: strings.TrimSpace(input.BackendToken),
		TokenHash:    HashToken(plainToken),
	}

	created, err := s.repo.Create(ctx, instance)
	if err != nil {
		return CreateOutput{}, err
	}

	return CreateOutput{Instance: created, PlainToken: plainToken}, nil
}

func (s *Service) List(ctx context.Context) ([]model.Instance, error) {
	return s.repo.List(ctx)
}

func (s *Service) ListByUser(ctx context.Context, userID, userRole string) ([]model.Instance, error) {
	if userRole == "admin" {
		return s.repo.List(ctx)
	}
	return s.repo.ListByOwner(ctx, userID)
}

func (s *Service) Get(ctx context.Context, id string) (model.Instance, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByUser esconde instâncias de outros donos atrás de ErrNotFound, para a
// API não revelar existência.
func (s *Service) GetByUser(ctx context.Context, id, userID, userRole string) (model.Instance, error) {
	instance, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return model.Instance{}, err
	}
	if userRole != "admin" && instance.OwnerUserID != userID {
		return model.Instance{}, storage.ErrNotFound
	}
	return instance, nil
}

// UpdateInput é parcial: campo nil (ou nome vazio) mantém o valor atual.
// String vazia explícita limpa o campo — importante para não apagar o
// backend autocorrigido pelo proxy em um simples rename.
type UpdateInput struct {
	Name          string
	BackendURL    *string
	BackendToken  *string
	AutoReply     *bool
	AutoReplyText *string
}

func (s *Service) Update(ctx context.Context, id, userID, userRole string, input UpdateInput) (model.Instance, error) {
	inst, err := s.GetByUser(ctx, id, userID, userRole)
	if err != nil {
		return model.Instance{}, err
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		inst.Name = name
	}
	if input.BackendURL != nil {
		backendURL := strings.TrimSpace(*input.BackendURL)
		if backendURL != "" && !strings.HasPrefix(backendURL, "http") {
			return model.Instance{}, ErrInvalidBackend
		}
		inst.BackendURL = backendURL
	}
	if input.BackendToken != nil {
		inst.BackendToken = strings.TrimSpace(*input.BackendToken)
	}
	if input.AutoReply != nil {
		inst.AutoReply = *input.AutoReply
	}
	if input.AutoReplyText != nil {
		inst.AutoReplyText = strings.TrimSpace(*input.AutoReplyText)
	}

	return s.repo.Update(ctx, inst)
}

// Delete remove a instância e tudo que a referencia: fila, eventos,
// batimentos e estados de breaker.
func (s *Service) Delete(ctx context.Context, id, userID, userRole string) error {
	inst, err := s.GetByUser(ctx, id, userID, userRole)
	if err != nil {
		return err
	}

	if s.queueRepo != nil {
		if err := s.queueRepo.DeleteByInstanceID(ctx, inst.ID); err != nil {
			return err
		}
	}
	if s.eventLogRepo != nil {
		if err := s.eventLogRepo.DeleteByInstanceID(ctx, inst.ID); err != nil {
			return err
		}
	}
	if s.heartbeatRepo != nil {
		_ = s.heartbeatRepo.Delete(ctx, inst.ID)
	}
	if s.breakerRepo != nil {
		states, err := s.breakerRepo.List(ctx)
		if err == nil {
			for _, state := range states {
				if state.InstanceID == inst.ID {
					_ = s.breakerRepo.Delete(ctx, state.InstanceID, state.Circuit)
				}
			}
		}
	}

	return s.repo.Delete(ctx, inst.ID)
}

// RotateToken gera um novo token de gateway, invalidando o anterior.
func (s *Service) RotateToken(ctx context.Context, id, userID, userRole string) (string, error) {
	inst, err := s.GetByUser(ctx, id, userID, userRole)
	if err != nil {
		return "", err
	}

	plain := uuid.NewString()
	inst.TokenHash = HashToken(plain)
	if _, err := s.repo.Update(ctx, inst); err != nil {
		return "", err
	}
	return plain, nil
}

// HashToken é o hash usado para armazenar e buscar tokens de instância. O
// middleware de autenticação aplica o mesmo hash antes de consultar o
// repositório.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
