package repository

import "errors"

var (
	// ErrMatchNotFound — матч не найден.
	ErrMatchNotFound = errors.New("match not found")
	// ErrConfigNotFound — конфигурация тенанта не найдена.
	ErrConfigNotFound = errors.New("match configuration not found")
	// ErrVersionConflict — optimistic concurrency: версия записи устарела.
	// Ошибка retryable: вызывающий перечитывает запись и повторяет попытку.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateMatch — матч для этой пары и версии конфигурации уже создан.
	ErrDuplicateMatch = errors.New("duplicate match")
	// ErrNoFieldsToUpdate — пустое частичное обновление.
	ErrNoFieldsToUpdate = errors.New("no fields to update")
)
