package manager

import "fmt"

// ErrorKind is the manager-level error taxonomy: one layered kind per
// failing step of a task, paired with the underlying database error when
// one exists.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrBeginTransactionFailed
	ErrCreateInfoTableFailed
	ErrCreateEntityTableFailed
	ErrAlterEntityTableFailed
	ErrCreateRelationTableFailed
	ErrCreateIndexFailed
	ErrInsertInfoFailed
	ErrInsertAttributesFailed
	ErrInsertRelationFailed
	ErrUpdateInfoFailed
	ErrUpdateSaveIdFailed
	ErrSelectFailed
	ErrSelectInfoFailed
	ErrSelectLastFailed
	ErrSelectRevertFailed
	ErrSelectRelationRemovedFailed
	ErrMakeObjectDatasFailed
	ErrDeleteFailed
	ErrPurgeFailed
	ErrPurgeRelationFailed
	ErrVacuumFailed
	ErrInvalidVersionText
	ErrVersionNotFound
	ErrSaveIdNotFound
	ErrOutOfRangeSaveId
	ErrLastInsertRowidFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrBeginTransactionFailed:
		return "begin_transaction_failed"
	case ErrCreateInfoTableFailed:
		return "create_info_table_failed"
	case ErrCreateEntityTableFailed:
		return "create_entity_table_failed"
	case ErrAlterEntityTableFailed:
		return "alter_entity_table_failed"
	case ErrCreateRelationTableFailed:
		return "create_relation_table_failed"
	case ErrCreateIndexFailed:
		return "create_index_failed"
	case ErrInsertInfoFailed:
		return "insert_info_failed"
	case ErrInsertAttributesFailed:
		return "insert_attributes_failed"
	case ErrInsertRelationFailed:
		return "insert_relation_failed"
	case ErrUpdateInfoFailed:
		return "update_info_failed"
	case ErrUpdateSaveIdFailed:
		return "update_save_id_failed"
	case ErrSelectFailed:
		return "select_failed"
	case ErrSelectInfoFailed:
		return "select_info_failed"
	case ErrSelectLastFailed:
		return "select_last_failed"
	case ErrSelectRevertFailed:
		return "select_revert_failed"
	case ErrSelectRelationRemovedFailed:
		return "select_relation_removed_failed"
	case ErrMakeObjectDatasFailed:
		return "make_object_datas_failed"
	case ErrDeleteFailed:
		return "delete_failed"
	case ErrPurgeFailed:
		return "purge_failed"
	case ErrPurgeRelationFailed:
		return "purge_relation_failed"
	case ErrVacuumFailed:
		return "vacuum_failed"
	case ErrInvalidVersionText:
		return "invalid_version_text"
	case ErrVersionNotFound:
		return "version_not_found"
	case ErrSaveIdNotFound:
		return "save_id_not_found"
	case ErrOutOfRangeSaveId:
		return "out_of_range_save_id"
	case ErrLastInsertRowidFailed:
		return "last_insert_rowid_failed"
	default:
		return "none"
	}
}

// Error pairs a manager-level kind with the underlying database error, if
// any caused it.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("manager: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("manager: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}
