// Package regclient implements the registration client (C5): the outbound
// handshake a worker performs against the coordinator at startup to obtain
// its partition assignment and seed data before it is allowed to serve
// task requests.
package regclient

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/thsergitox/bank-system-distributed/internal/codec"
	"github.com/thsergitox/bank-system-distributed/internal/store"
)

// Result is what a successful handshake hands back to the caller: the set
// of partitions this worker now owns, ready for the task server to serve.
type Result struct {
	OwnedPartitions map[string]bool
}

// Register dials host:port, runs the four-message handshake, materializes
// seed data into s, and returns the owned partition set. receiveTimeout
// bounds the whole handshake's deadline (seed payloads for a newly assigned
// worker may be large, so callers should configure at least 60s). Any
// failure aborts the handshake; the caller is expected to exit the process
// non-zero.
func Register(workerID, host, port string, taskListenPort int, s *store.Store, maxFrameBytes int64, receiveTimeout time.Duration, log zerolog.Logger) (*Result, error) {
	addr := net.JoinHostPort(host, port)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial coordinator at %s: %w", addr, err)
	}
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	deadline := time.Now().Add(receiveTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	registro := codec.Message{
		"tipo":               "REGISTRO",
		"workerId":           workerID,
		"listaParticiones":   []interface{}{},
		"puertoTareasWorker": taskListenPort,
		"mensajeTexto":       "worker " + workerID + " requesting registration",
	}
	if err := codec.WriteMessage(conn, registro); err != nil {
		return nil, fmt.Errorf("send REGISTRO: %w", err)
	}
	log.Info().Str("worker_id", workerID).Msg("sent REGISTRO to coordinator")

	assignment, err := codec.ReadMessage(conn, maxFrameBytes, log)
	if err != nil {
		return nil, fmt.Errorf("read assignment: %w", err)
	}
	if assignment.Str("tipo") != "ASIGNACION_PARTICIONES_Y_DATOS" {
		return nil, fmt.Errorf("unexpected message %q, expected ASIGNACION_PARTICIONES_Y_DATOS", assignment.Str("tipo"))
	}

	owned, err := materialize(s, assignment, log)
	if err != nil {
		return nil, fmt.Errorf("materialize seed data: %w", err)
	}

	recibido := codec.Message{
		"tipo":         "DATOS_RECIBIDOS_POR_WORKER",
		"workerId":     workerID,
		"mensajeTexto": "seed data received and materialized",
	}
	if err := codec.WriteMessage(conn, recibido); err != nil {
		return nil, fmt.Errorf("send DATOS_RECIBIDOS_POR_WORKER: %w", err)
	}

	confirmacion, err := codec.ReadMessage(conn, maxFrameBytes, log)
	if err != nil {
		return nil, fmt.Errorf("read confirmation: %w", err)
	}
	if confirmacion.Str("tipo") != "CONFIRMACION_REGISTRO_COMPLETO" {
		return nil, fmt.Errorf("unexpected message %q, expected CONFIRMACION_REGISTRO_COMPLETO", confirmacion.Str("tipo"))
	}

	log.Info().Str("worker_id", workerID).Int("partitions", len(owned)).Msg("registration complete, worker is ready")
	return &Result{OwnedPartitions: owned}, nil
}

// materialize writes every partition's seed rows into the store, dispatching
// schema by id prefix (CUENTA_ vs CLIENTE_).
func materialize(s *store.Store, assignment codec.Message, log zerolog.Logger) (map[string]bool, error) {
	rawList, _ := assignment["listaParticiones"].([]interface{})
	rawData, _ := assignment["datosPorParticion"].(map[string]interface{})

	owned := make(map[string]bool, len(rawList))
	for _, v := range rawList {
		partitionID, ok := v.(string)
		if !ok {
			continue
		}
		owned[partitionID] = true

		rows, _ := rawData[partitionID].([]interface{})
		if isAccountPartition(partitionID) {
			accountRows, err := toAccountRows(rows)
			if err != nil {
				return nil, fmt.Errorf("partition %s: %w", partitionID, err)
			}
			if err := s.WriteAccountSeed(partitionID, accountRows); err != nil {
				return nil, fmt.Errorf("seed account partition %s: %w", partitionID, err)
			}
		} else {
			clientRows, err := toClientRows(rows)
			if err != nil {
				return nil, fmt.Errorf("partition %s: %w", partitionID, err)
			}
			if err := s.WriteClientSeed(partitionID, clientRows); err != nil {
				return nil, fmt.Errorf("seed client partition %s: %w", partitionID, err)
			}
		}
		log.Debug().Str("partition", partitionID).Int("rows", len(rows)).Msg("materialized seed partition")
	}
	return owned, nil
}

func isAccountPartition(partitionID string) bool {
	return len(partitionID) >= 7 && partitionID[:7] == "CUENTA_"
}

// toAccountRows converts wire rows into AccountRow. The seed row schema
// uses camelCase keys (idCuenta, idCliente, saldo, tipoCuenta), distinct
// from the ALL_CAPS convention used by operation-request params.
func toAccountRows(rows []interface{}) ([]store.AccountRow, error) {
	out := make([]store.AccountRow, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("seed row is not a mapping")
		}
		accountID, err := toInt64(m, "idCuenta")
		if err != nil {
			return nil, err
		}
		clientID, err := toInt64(m, "idCliente")
		if err != nil {
			return nil, err
		}
		balance, err := toFloat64(m, "saldo")
		if err != nil {
			return nil, err
		}
		kind, err := toString(m, "tipoCuenta")
		if err != nil {
			return nil, err
		}
		out = append(out, store.AccountRow{
			AccountID:   accountID,
			ClientID:    clientID,
			Balance:     balance,
			AccountKind: kind,
		})
	}
	return out, nil
}

// toClientRows converts wire rows into ClientRow, using the same
// camelCase key convention (idCliente, nombre, email, telefono).
func toClientRows(rows []interface{}) ([]store.ClientRow, error) {
	out := make([]store.ClientRow, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("seed row is not a mapping")
		}
		clientID, err := toInt64(m, "idCliente")
		if err != nil {
			return nil, err
		}
		name, err := toString(m, "nombre")
		if err != nil {
			return nil, err
		}
		email, err := toString(m, "email")
		if err != nil {
			return nil, err
		}
		phone, err := toString(m, "telefono")
		if err != nil {
			return nil, err
		}
		out = append(out, store.ClientRow{
			ClientID: clientID,
			Name:     name,
			Email:    email,
			Phone:    phone,
		})
	}
	return out, nil
}

func toInt64(m map[string]interface{}, key string) (int64, error) {
	f, ok := m[key].(float64)
	if !ok {
		return 0, fmt.Errorf("seed row missing numeric field %q", key)
	}
	return int64(f), nil
}

func toFloat64(m map[string]interface{}, key string) (float64, error) {
	f, ok := m[key].(float64)
	if !ok {
		return 0, fmt.Errorf("seed row missing numeric field %q", key)
	}
	return f, nil
}

func toString(m map[string]interface{}, key string) (string, error) {
	s, ok := m[key].(string)
	if !ok {
		return "", fmt.Errorf("seed row missing string field %q", key)
	}
	return s, nil
}
