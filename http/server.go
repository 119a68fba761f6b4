// Package http exposes the payment reconciliation protocol over a JSON API.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pbtcpay "github.com/purplebtc/pbtc-payments-go"
	"github.com/purplebtc/pbtc-payments-go/config"
)

// Server adapts a Protocol to the HTTP surface consumed by checkout clients
// and merchant backends.
type Server struct {
	protocol *pbtcpay.Protocol
	network  config.NetworkConfig
}

// NewServer creates the HTTP adapter for a protocol instance.
func NewServer(protocol *pbtcpay.Protocol, network config.NetworkConfig) *Server {
	return &Server{protocol: protocol, network: network}
}

// RegisterRoutes mounts all payment endpoints on the router.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/payments/create", s.createPayment)
	api.POST("/payments/lock", s.lockPayment)
	api.POST("/payments/confirm", s.confirmPayment)
	api.POST("/verify-payment", s.verifyPayment)
	api.POST("/verify-onchain", s.verifyOnChain)
	api.GET("/payments/:reference", s.getPayment)
	api.GET("/payments/merchant/:wallet", s.listMerchantPayments)
	api.GET("/config", s.getConfig)
}

func (s *Server) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	payment, created, err := s.protocol.Create(c.Request.Context(), pbtcpay.CreateParams{
		Reference:      req.Reference,
		MerchantWallet: req.MerchantWallet,
		Amount:         req.Amount,
		TokenID:        tokenOrDefault(req.TokenID),
		Memo:           req.Memo,
		ExpectedPayer:  req.PayerWallet,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if !created {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"payment": payment,
			"message": "existing pending payment returned",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"payment": payment,
	})
}

func (s *Server) lockPayment(c *gin.Context) {
	var req lockPaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	payment, err := s.protocol.Lock(c.Request.Context(), req.Reference, req.PayerWallet)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"payment": payment,
		"message": "payment locked to your wallet",
	})
}

func (s *Server) confirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := s.protocol.Confirm(c.Request.Context(), pbtcpay.ConfirmParams{
		Reference:    req.Reference,
		Signature:    req.Signature,
		SenderWallet: req.SenderWallet,
		TokenID:      req.TokenID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"payment":        result.Payment,
		"verified":       result.Verified,
		"receivedAmount": result.ReceivedAmount,
		"verifiedSender": result.VerifiedSender,
	})
}

func (s *Server) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := s.protocol.Query(c.Request.Context(), pbtcpay.QueryParams{
		Reference:      req.Reference,
		MerchantWallet: req.MerchantWallet,
		ExpectedAmount: req.ExpectedAmount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) verifyOnChain(c *gin.Context) {
	var req verifyOnChainRequest
	if !bindAndValidate(c, &req) {
		return
	}

	verification, err := s.protocol.VerifyOnChain(c.Request.Context(),
		req.Signature, req.MerchantWallet, req.ExpectedAmount, req.TokenID, req.SenderWallet)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"verified":      verification.Valid,
		"error":         verification.Reason,
		"amount":        verification.ReceivedAmount,
		"senderAddress": verification.SenderAddress,
	})
}

func (s *Server) getPayment(c *gin.Context) {
	payment, err := s.protocol.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

func (s *Server) listMerchantPayments(c *gin.Context) {
	payments, err := s.protocol.ListByMerchant(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		writeError(c, err)
		return
	}
	if payments == nil {
		payments = []*pbtcpay.PaymentRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"token":   s.network.DefaultAsset,
		"network": s.network.Network,
		"rpcUrl":  s.network.RPCURL,
	})
}

func tokenOrDefault(tokenID string) string {
	if tokenID == "" {
		return config.PBTC.Symbol
	}
	return tokenID
}

func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return false
	}
	return true
}

// writeError maps a typed payment error to its response status. Conflicts and
// verification failures are client-visible 400s like the rest of the policy
// violations; only transport trouble with the chain maps to 503 so callers
// know a retry is safe.
func writeError(c *gin.Context, err error) {
	var pe *pbtcpay.PaymentError
	if !errors.As(err, &pe) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusBadRequest
	switch pe.Code {
	case pbtcpay.ErrCodeNotFound:
		status = http.StatusNotFound
	case pbtcpay.ErrCodeAdapterUnavailable:
		status = http.StatusServiceUnavailable
	}

	body := gin.H{"success": false, "error": pe.Message}
	for key, value := range pe.Details {
		body[key] = value
	}
	c.JSON(status, body)
}
