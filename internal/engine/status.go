package engine

// Status is the complete response status taxonomy for operation results.
const (
	StatusExito                      = "EXITO"
	StatusErrorSaldoInsuficiente     = "ERROR_SALDO_INSUFICIENTE"
	StatusErrorCuentaOrigenNoExiste  = "ERROR_CUENTA_ORIGEN_NO_EXISTE"
	StatusErrorCuentaDestinoNoExiste = "ERROR_CUENTA_DESTINO_NO_EXISTE"
	StatusErrorGeneralServidor       = "ERROR_GENERAL_SERVIDOR"
	StatusErrorComunicacion          = "ERROR_COMUNICACION"
	StatusDebitoPreparadoOk          = "DEBITO_PREPARADO_OK"
	StatusDebitoConfirmadoOk         = "DEBITO_CONFIRMADO_OK"
	StatusDebitoRevertidoOk          = "DEBITO_REVERTIDO_OK"
	StatusCreditoAplicadoOk          = "CREDITO_APLICADO_OK"
	StatusReplicaActualizadaOk       = "REPLICA_ACTUALIZADA_OK"
)

// Operation kinds recognized by Engine.Handle, matching tipoOperacion on the wire.
const (
	OpConsultarSaldo         = "CONSULTAR_SALDO"
	OpTransferirFondos       = "TRANSFERIR_FONDOS"
	OpPrepararDebito         = "PREPARAR_DEBITO"
	OpAplicarCredito         = "APLICAR_CREDITO"
	OpConfirmarDebito        = "CONFIRMAR_DEBITO"
	OpRevertirDebito         = "REVERTIR_DEBITO"
	OpActualizarSaldoReplica = "ACTUALIZAR_SALDO_REPLICA"
	OpCalcularSaldoParticion = "CALCULAR_SALDO_PARTICION"
)
