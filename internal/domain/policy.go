package domain

import (
	"encoding/json"
	"time"
)

// PolicyDocument — декларативная политика одного принципала (или паттерна
// принципалов) в формате, который пишет ИБ-команда:
//
//	{
//	  "resources": ["tool:trading/execute_trade"],
//	  "denied_resources": ["tool:admin/*"],
//	  "attestations": ["trade-approved::{params.amount > 10000}"],
//	  "constraints": {
//	    "parameters": {"model": {"values": ["gpt-3.5-turbo"]},
//	                   "max_tokens": {"max": 500}},
//	    "denied_parameters": {"action": ["short"]},
//	    "attestations": {
//	      "trade-approved": {"approval_criteria": "role:manager",
//	                         "timeout": 300, "time_to_live": 3600,
//	                         "one_time": true}
//	    }
//	  }
//	}
//
// Документ хранится в Postgres как JSONB и компилируется пакетом policy
// при загрузке в кэш шлюза.
type PolicyDocument struct {
	Principal string `json:"principal"` // ID принципала или "*"
	App       string `json:"app,omitempty"`

	Resources       []string `json:"resources"`
	DeniedResources []string `json:"denied_resources,omitempty"`

	// Attestations — строки вида "<key>::{params.amount > 10000}".
	// Голый "<key>" без условия означает "аттестат нужен всегда".
	Attestations []string `json:"attestations,omitempty"`

	Constraints Constraints `json:"constraints,omitempty"`
}

type Constraints struct {
	Parameters       map[string]ParameterRule   `json:"parameters,omitempty"`
	DeniedParameters map[string][]any           `json:"denied_parameters,omitempty"`
	Attestations     map[string]AttestationSpec `json:"attestations,omitempty"`
	Roles            []string                   `json:"roles,omitempty"`
}

// ParameterRule — ограничение на один параметр: либо allow-set значений,
// либо числовые границы (можно совмещать).
type ParameterRule struct {
	Values []any    `json:"values,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// AttestationSpec — "как именно работает" аттестат с данным ключом.
// Таймауты в документе задаются секундами (как в клиентских политиках).
type AttestationSpec struct {
	ApprovalCriteria string `json:"approval_criteria"`
	TimeoutSec       int    `json:"timeout,omitempty"`
	TimeToLiveSec    int    `json:"time_to_live,omitempty"`
	OneTime          bool   `json:"one_time,omitempty"`
}

func (s AttestationSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

func (s AttestationSpec) TimeToLive() time.Duration {
	return time.Duration(s.TimeToLiveSec) * time.Second
}

// StoredPolicy — строка таблицы policies: документ + метаданные.
type StoredPolicy struct {
	ID        string          `json:"id"`
	Principal string          `json:"principal"` // "*" для всех
	App       string          `json:"app,omitempty"`
	Document  json.RawMessage `json:"document"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
