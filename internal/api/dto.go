package api

import (
	"fmt"
	"time"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/queue"
)

// itemDTO is the JSON wire shape of a model.PrioritizedItem. The model
// package carries no JSON tags of its own (it is shared by non-HTTP
// collaborators too), so the API defines its own envelope, the same way
// internal/catalogue defines DTOs for its upstream's wire format.
type itemDTO struct {
	ID         string      `json:"id"`
	Priority   int         `json:"priority"`
	Hash       string      `json:"hash"`
	Data       taskDataDTO `json:"data"`
	CreatedAt  string      `json:"created_at,omitempty"`
	ModifiedAt string      `json:"modified_at,omitempty"`
}

type taskDataDTO struct {
	Kind       string             `json:"kind"`
	Boefje     *boefjeTaskDTO     `json:"boefje,omitempty"`
	Normalizer *normalizerTaskDTO `json:"normalizer,omitempty"`
}

type boefjeTaskDTO struct {
	BoefjeID string `json:"boefje_id"`
	InputOOI string `json:"input_ooi"`
	Org      string `json:"organization"`
}

type normalizerTaskDTO struct {
	NormalizerID string `json:"normalizer_id"`
	RawDataID    string `json:"raw_data_id"`
	Org          string `json:"organization"`
}

func toItemDTO(item *model.PrioritizedItem) itemDTO {
	dto := itemDTO{
		ID:       item.ID,
		Priority: item.Priority,
		Hash:     item.Hash,
	}
	if !item.CreatedAt.IsZero() {
		dto.CreatedAt = item.CreatedAt.Format(time.RFC3339)
	}
	if !item.ModifiedAt.IsZero() {
		dto.ModifiedAt = item.ModifiedAt.Format(time.RFC3339)
	}
	switch item.Data.Kind {
	case model.PayloadBoefje:
		if b := item.Data.Boefje; b != nil {
			dto.Data = taskDataDTO{Kind: string(model.PayloadBoefje), Boefje: &boefjeTaskDTO{
				BoefjeID: b.Boefje.ID,
				InputOOI: b.InputOOI.PrimaryKey,
				Org:      b.Org,
			}}
		}
	case model.PayloadNormalizer:
		if n := item.Data.Normalizer; n != nil {
			dto.Data = taskDataDTO{Kind: string(model.PayloadNormalizer), Normalizer: &normalizerTaskDTO{
				NormalizerID: n.Normalizer.ID,
				RawDataID:    n.RawData.ID,
				Org:          n.Org,
			}}
		}
	}
	return dto
}

// queueSummaryDTO is the response body for GET /queues/{id}, and one
// element of the GET /queues list.
type queueSummaryDTO struct {
	SchedulerID string `json:"scheduler_id"`
	MaxSize     int    `json:"max_size"`
	QSize       int    `json:"qsize"`
	Full        bool   `json:"full"`
}

func queueSummary(q queue.Queue) queueSummaryDTO {
	return queueSummaryDTO{
		SchedulerID: q.SchedulerID(),
		MaxSize:     q.MaxSize(),
		QSize:       q.QSize(),
		Full:        q.Full(),
	}
}

// pushRequest is the request body for POST /queues/{id}/push.
type pushRequest struct {
	Priority int         `json:"priority"`
	Hash     string      `json:"hash"`
	Data     taskDataDTO `json:"data"`
}

// toItem builds the model.PrioritizedItem the queue's Push expects. Only
// the fields hash/priority/data are client-supplied; id and timestamps are
// assigned by the queue itself.
func (r pushRequest) toItem() (*model.PrioritizedItem, error) {
	item := &model.PrioritizedItem{
		Priority: r.Priority,
		Hash:     r.Hash,
	}
	switch model.PayloadKind(r.Data.Kind) {
	case model.PayloadBoefje:
		if r.Data.Boefje == nil {
			return nil, fmt.Errorf("data.boefje is required for kind %q", r.Data.Kind)
		}
		b := r.Data.Boefje
		item.Data = model.TaskPayload{Kind: model.PayloadBoefje, Boefje: &model.BoefjeTask{
			Boefje:   model.Plugin{ID: b.BoefjeID},
			InputOOI: model.OOI{PrimaryKey: b.InputOOI},
			Org:      b.Org,
		}}
	case model.PayloadNormalizer:
		if r.Data.Normalizer == nil {
			return nil, fmt.Errorf("data.normalizer is required for kind %q", r.Data.Kind)
		}
		n := r.Data.Normalizer
		item.Data = model.TaskPayload{Kind: model.PayloadNormalizer, Normalizer: &model.NormalizerTask{
			Normalizer: model.Plugin{ID: n.NormalizerID},
			RawData:    model.RawData{ID: n.RawDataID},
			Org:        n.Org,
		}}
	default:
		return nil, fmt.Errorf("unknown data.kind %q", r.Data.Kind)
	}
	return item, nil
}
