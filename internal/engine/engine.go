// Package engine implements the operation engine (C4): the pure
// transactional semantics of each request kind, sequencing partition-store
// reads/writes and transaction-log entries, and shaping the response.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/thsergitox/bank-system-distributed/internal/codec"
	"github.com/thsergitox/bank-system-distributed/internal/metrics"
	"github.com/thsergitox/bank-system-distributed/internal/store"
	"github.com/thsergitox/bank-system-distributed/internal/txlog"
)

// Engine dispatches operation requests against a Store and Log, scoped to
// a fixed, read-only-after-registration set of owned partitions.
type Engine struct {
	store    *store.Store
	log      *txlog.Log
	metrics  *metrics.Metrics
	workerID string
	owned    map[string]bool
	logger   zerolog.Logger
}

// New builds an Engine. owned is the partition-ID set assigned to this
// worker at registration; it is never mutated afterward.
func New(s *store.Store, l *txlog.Log, m *metrics.Metrics, workerID string, owned map[string]bool, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    s,
		log:      l,
		metrics:  m,
		workerID: workerID,
		owned:    owned,
		logger:   logger,
	}
}

// Handle dispatches one decoded request and returns the response to encode.
// It never panics on malformed input; every branch resolves to a response.
func (e *Engine) Handle(req codec.Message) codec.Message {
	start := time.Now()
	kind := req.Str("tipoOperacion")

	var resp codec.Message
	switch kind {
	case OpConsultarSaldo:
		resp = e.consultarSaldo(req)
	case OpTransferirFondos:
		resp = e.transferirFondos(req)
	case OpPrepararDebito:
		resp = e.prepararDebito(req)
	case OpAplicarCredito:
		resp = e.aplicarCredito(req)
	case OpConfirmarDebito:
		resp = e.confirmarDebito(req)
	case OpRevertirDebito:
		resp = e.revertirDebito(req)
	case OpActualizarSaldoReplica:
		resp = e.actualizarSaldoReplica(req)
	case OpCalcularSaldoParticion:
		resp = e.calcularSaldoParticion(req)
	default:
		resp = respond(StatusErrorGeneralServidor, "unknown operation kind", nil)
	}

	if e.metrics != nil {
		e.metrics.ObserveOperation(kind, resp.Str("estado"), start)
	}
	return resp
}

func respond(estado, mensaje string, datos interface{}) codec.Message {
	return codec.Message{"estado": estado, "mensaje": mensaje, "datos": datos}
}

func (e *Engine) isOwned(partitionID string) bool {
	return e.owned[partitionID]
}

// lockPartition acquires the partition's writer mutex, recording how long
// the acquisition took. The returned func releases it. Every handler that
// mutates a partition must hold this across its whole read-compute-write
// sequence.
func (e *Engine) lockPartition(partitionID string) func() {
	waitStart := time.Now()
	unlock := e.store.Lock(partitionID)
	if e.metrics != nil {
		e.metrics.PartitionWriterWaitS.WithLabelValues(partitionID).Observe(time.Since(waitStart).Seconds())
	}
	return unlock
}

// requireFields checks presence of every key in keys, returning the name
// of the first missing one (or "" if all present).
func requireFields(req codec.Message, keys ...string) string {
	for _, k := range keys {
		if _, ok := req[k]; !ok {
			return k
		}
	}
	return ""
}

func paramsIncomplete() codec.Message {
	return respond(StatusErrorGeneralServidor, "parameters incomplete", nil)
}

// --- CONSULTAR_SALDO ---------------------------------------------------

func (e *Engine) consultarSaldo(req codec.Message) codec.Message {
	if missing := requireFields(req, "ID_CUENTA", "ID_PARTICION"); missing != "" {
		return paramsIncomplete()
	}
	partitionID := req.Str("ID_PARTICION")
	accountID, _ := req.Int64("ID_CUENTA")

	if !e.isOwned(partitionID) {
		return respond(StatusErrorGeneralServidor, "partition not owned by this worker", nil)
	}

	balance, err := e.store.ReadBalance(partitionID, accountID)
	if err == store.ErrNotFound {
		return respond(StatusErrorCuentaOrigenNoExiste, "account does not exist", nil)
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("consultar_saldo: read failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}
	return respond(StatusExito, "", balance)
}

// --- TRANSFERIR_FONDOS ---------------------------------------------------

func (e *Engine) transferirFondos(req codec.Message) codec.Message {
	if missing := requireFields(req, "ID_CUENTA_ORIGEN", "ID_CUENTA_DESTINO", "MONTO", "ID_PARTICION", "ID_TRANSACCION_GLOBAL"); missing != "" {
		return paramsIncomplete()
	}
	partitionID := req.Str("ID_PARTICION")
	txID := req.Str("ID_TRANSACCION_GLOBAL")
	srcID, _ := req.Int64("ID_CUENTA_ORIGEN")
	dstID, _ := req.Int64("ID_CUENTA_DESTINO")
	amount, _ := req.Float64("MONTO")

	if !e.isOwned(partitionID) {
		return respond(StatusErrorGeneralServidor, "partition not owned by this worker", nil)
	}

	unlock := e.lockPartition(partitionID)
	defer unlock()

	srcBalance, err := e.store.ReadBalance(partitionID, srcID)
	if err == store.ErrNotFound {
		return respond(StatusErrorCuentaOrigenNoExiste, "source account does not exist", nil)
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("transferir_fondos: read source failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	if srcBalance < amount {
		e.log.Append(txID, srcID, dstID, amount, txlog.WithWorker(txlog.TagRechazadaSaldoInsuf, e.workerID))
		return respond(StatusErrorSaldoInsuficiente, "insufficient funds", srcBalance)
	}

	dstBalance, err := e.store.ReadBalance(partitionID, dstID)
	if err == store.ErrNotFound {
		e.log.Append(txID, srcID, dstID, amount, txlog.WithWorker(txlog.TagFallidaDestinoNoExiste, e.workerID))
		return respond(StatusErrorCuentaDestinoNoExiste, "destination account does not exist", nil)
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("transferir_fondos: read destination failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	newSrc := srcBalance - amount
	newDst := dstBalance + amount
	if err := e.store.UpdateTwo(partitionID, srcID, newSrc, dstID, newDst); err != nil {
		e.log.Append(txID, srcID, dstID, amount, txlog.WithWorker(txlog.TagFallidaEscritura, e.workerID))
		e.logger.Error().Err(err).Msg("transferir_fondos: update failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	e.log.Append(txID, srcID, dstID, amount, txlog.WithWorker(txlog.TagExitoIntraParticion, e.workerID))
	return respond(StatusExito, "", codec.Message{
		"nuevoSaldoOrigen":   newSrc,
		"nuevoSaldoDestino":  newDst,
		"workerIdProcesador": e.workerID,
	})
}

// --- PREPARAR_DEBITO -----------------------------------------------------

func (e *Engine) prepararDebito(req codec.Message) codec.Message {
	if missing := requireFields(req, "ID_CUENTA_ORIGEN", "MONTO", "ID_PARTICION", "ID_TRANSACCION_GLOBAL"); missing != "" {
		return paramsIncomplete()
	}
	partitionID := req.Str("ID_PARTICION")
	txID := req.Str("ID_TRANSACCION_GLOBAL")
	srcID, _ := req.Int64("ID_CUENTA_ORIGEN")
	amount, _ := req.Float64("MONTO")

	if !e.isOwned(partitionID) {
		return respond(StatusErrorGeneralServidor, "partition not owned by this worker", nil)
	}

	balance, err := e.store.ReadBalance(partitionID, srcID)
	if err == store.ErrNotFound {
		return respond(StatusErrorCuentaOrigenNoExiste, "source account does not exist", nil)
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("preparar_debito: read failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	// No durable reservation: prepare only asserts sufficiency. An
	// insufficient balance is neither logged nor mutates state.
	if balance < amount {
		return respond(StatusErrorSaldoInsuficiente, "insufficient funds", balance)
	}

	e.log.Append(txID, srcID, -1, amount, txlog.WithWorker(txlog.TagPrepararDebitoOk, e.workerID))
	return respond(StatusDebitoPreparadoOk, "", codec.Message{
		"saldoActualOrigen":  balance,
		"workerIdProcesador": e.workerID,
	})
}

// --- APLICAR_CREDITO ------------------------------------------------------

func (e *Engine) aplicarCredito(req codec.Message) codec.Message {
	if missing := requireFields(req, "ID_CUENTA_DESTINO", "MONTO", "ID_PARTICION", "ID_TRANSACCION_GLOBAL"); missing != "" {
		return paramsIncomplete()
	}
	partitionID := req.Str("ID_PARTICION")
	txID := req.Str("ID_TRANSACCION_GLOBAL")
	dstID, _ := req.Int64("ID_CUENTA_DESTINO")
	amount, _ := req.Float64("MONTO")

	// Every partition-scoped operation checks ownership uniformly,
	// including credit application on the destination side of a 2PC.
	if !e.isOwned(partitionID) {
		return respond(StatusErrorGeneralServidor, "partition not owned by this worker", nil)
	}

	unlock := e.lockPartition(partitionID)
	defer unlock()

	balance, err := e.store.ReadBalance(partitionID, dstID)
	if err == store.ErrNotFound {
		return respond(StatusErrorCuentaDestinoNoExiste, "destination account does not exist", nil)
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("aplicar_credito: read failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	newBalance := balance + amount
	if err := e.store.UpdateOne(partitionID, dstID, newBalance); err != nil {
		e.logger.Error().Err(err).Msg("aplicar_credito: update failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	e.log.Append(txID, -1, dstID, amount, txlog.WithWorker(txlog.TagAplicarCreditoOk, e.workerID))
	return respond(StatusCreditoAplicadoOk, "", newBalance)
}

// --- CONFIRMAR_DEBITO -----------------------------------------------------

func (e *Engine) confirmarDebito(req codec.Message) codec.Message {
	if missing := requireFields(req, "ID_CUENTA_ORIGEN", "MONTO", "ID_PARTICION", "ID_TRANSACCION_GLOBAL"); missing != "" {
		return paramsIncomplete()
	}
	partitionID := req.Str("ID_PARTICION")
	txID := req.Str("ID_TRANSACCION_GLOBAL")
	srcID, _ := req.Int64("ID_CUENTA_ORIGEN")
	amount, _ := req.Float64("MONTO")

	if !e.isOwned(partitionID) {
		return respond(StatusErrorGeneralServidor, "partition not owned by this worker", nil)
	}

	unlock := e.lockPartition(partitionID)
	defer unlock()

	balance, err := e.store.ReadBalance(partitionID, srcID)
	if err == store.ErrNotFound {
		return respond(StatusErrorCuentaOrigenNoExiste, "source account does not exist", nil)
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("confirmar_debito: read failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	newBalance := balance - amount
	if err := e.store.UpdateOne(partitionID, srcID, newBalance); err != nil {
		e.logger.Error().Err(err).Msg("confirmar_debito: update failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	e.log.Append(txID, srcID, -1, amount, txlog.WithWorker(txlog.TagConfirmarDebitoOk, e.workerID))
	return respond(StatusDebitoConfirmadoOk, "", codec.Message{
		"nuevoSaldoOrigen":   newBalance,
		"workerIdProcesador": e.workerID,
	})
}

// --- REVERTIR_DEBITO -------------------------------------------------------

func (e *Engine) revertirDebito(req codec.Message) codec.Message {
	if missing := requireFields(req, "ID_CUENTA_ORIGEN", "MONTO", "ID_PARTICION", "ID_TRANSACCION_GLOBAL"); missing != "" {
		return paramsIncomplete()
	}
	partitionID := req.Str("ID_PARTICION")
	txID := req.Str("ID_TRANSACCION_GLOBAL")
	srcID, _ := req.Int64("ID_CUENTA_ORIGEN")
	amount, _ := req.Float64("MONTO")

	if !e.isOwned(partitionID) {
		return respond(StatusErrorGeneralServidor, "partition not owned by this worker", nil)
	}

	unlock := e.lockPartition(partitionID)
	defer unlock()

	balance, err := e.store.ReadBalance(partitionID, srcID)
	if err == store.ErrNotFound {
		return respond(StatusErrorCuentaOrigenNoExiste, "source account does not exist", nil)
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("revertir_debito: read failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	newBalance := balance + amount
	if err := e.store.UpdateOne(partitionID, srcID, newBalance); err != nil {
		e.logger.Error().Err(err).Msg("revertir_debito: update failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	e.log.Append(txID, srcID, -1, amount, txlog.WithWorker(txlog.TagRevertirDebitoOk, e.workerID))
	return respond(StatusDebitoRevertidoOk, "", codec.Message{
		"nuevoSaldoOrigen":   newBalance,
		"workerIdProcesador": e.workerID,
	})
}

// --- ACTUALIZAR_SALDO_REPLICA ----------------------------------------------

func (e *Engine) actualizarSaldoReplica(req codec.Message) codec.Message {
	if missing := requireFields(req, "ID_CUENTA", "NUEVO_SALDO", "ID_PARTICION", "ID_TRANSACCION_GLOBAL"); missing != "" {
		return paramsIncomplete()
	}
	partitionID := req.Str("ID_PARTICION")
	txID := req.Str("ID_TRANSACCION_GLOBAL")
	accountID, _ := req.Int64("ID_CUENTA")
	newBalance, _ := req.Float64("NUEVO_SALDO")

	if !e.isOwned(partitionID) {
		return respond(StatusErrorGeneralServidor, "partition not owned by this worker", nil)
	}

	unlock := e.lockPartition(partitionID)
	defer unlock()

	if err := e.store.UpdateOne(partitionID, accountID, newBalance); err != nil {
		e.logger.Error().Err(err).Msg("actualizar_saldo_replica: update failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}

	e.log.Append(txID, accountID, -1, newBalance, txlog.WithWorker(txlog.TagReplicaActualizadaOk, e.workerID))
	return respond(StatusReplicaActualizadaOk, "", newBalance)
}

// --- CALCULAR_SALDO_PARTICION -----------------------------------------------

func (e *Engine) calcularSaldoParticion(req codec.Message) codec.Message {
	if missing := requireFields(req, "ID_PARTICION"); missing != "" {
		return paramsIncomplete()
	}
	partitionID := req.Str("ID_PARTICION")

	if !e.isOwned(partitionID) {
		return respond(StatusErrorGeneralServidor, "partition not owned by this worker", nil)
	}

	total, err := e.store.SumBalances(partitionID)
	if err != nil {
		e.logger.Error().Err(err).Msg("calcular_saldo_particion: sum failed")
		return respond(StatusErrorGeneralServidor, "internal error", nil)
	}
	return respond(StatusExito, "", total)
}
