package services

import (
	"database/sql"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hefamarket/backend/internal/ledger"
	"github.com/hefamarket/backend/internal/models"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

const platformBIC = "HEFAMKTL"

// ISO20022Service exports settled payouts as pacs.008 credit transfer
// messages for bank-side reconciliation.
type ISO20022Service struct {
	db *sql.DB
}

func NewISO20022Service(db *sql.DB) *ISO20022Service {
	return &ISO20022Service{db: db}
}

type payoutExport struct {
	payout   models.PayoutRequest
	transfer models.Transfer
	bank     models.BankAccount
}

// ExportPayout renders a settled payout as pacs.008 XML
// @Summary Export payout as ISO 20022
// @Description Builds a pacs.008 FIToFICustomerCreditTransfer document for a payout whose transfer succeeded.
// @Tags payouts
// @Produce xml
// @Param payoutId path string true "Payout ID"
// @Success 200 {string} string "pacs.008 XML"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payouts/{payoutId}/pacs008 [get]
func (iso *ISO20022Service) ExportPayout(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "payoutId")

	exp, err := iso.loadPayout(payoutID)
	if errors.Is(err, sql.ErrNoRows) {
		SendLedgerError(w, ledger.ErrPayoutNotFound)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to load payout", http.StatusInternalServerError, nil)
		return
	}
	if exp.transfer.Status != models.TransferSucceeded {
		SendErrorResponse(w, "Payout transfer not settled", http.StatusBadRequest, nil)
		return
	}

	doc, err := iso.CreatePacs008(exp)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}
	xmlData, err := ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xmlData))
}

func (iso *ISO20022Service) loadPayout(payoutID string) (*payoutExport, error) {
	var exp payoutExport
	err := iso.db.QueryRow(`
		SELECT p.id, p.owner_type, p.owner_id, p.amount, p.currency,
		       t.provider_ref, t.status,
		       b.bank_code, b.account_no, b.account_name
		FROM payout_requests p
		JOIN transfers t ON t.payout_request_id = p.id
		JOIN bank_accounts b ON b.id = p.bank_account_id
		WHERE p.id = $1
		ORDER BY t.created_at DESC
		LIMIT 1`, payoutID).
		Scan(&exp.payout.ID, &exp.payout.OwnerType, &exp.payout.OwnerID, &exp.payout.Amount, &exp.payout.Currency,
			&exp.transfer.ProviderRef, &exp.transfer.Status,
			&exp.bank.BankCode, &exp.bank.AccountNo, &exp.bank.AccountName)
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for
// a payout. Amounts convert from minor units to currency units.
func (iso *ISO20022Service) CreatePacs008(exp *payoutExport) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	amount := float64(exp.payout.Amount) / 100

	creditorName := exp.bank.AccountName
	if creditorName == "" {
		creditorName = string(exp.payout.OwnerType) + ":" + exp.payout.OwnerID
	}

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(exp.payout.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(exp.payout.ID)}[0],
					EndToEndId: common.Max35Text(exp.transfer.ProviderRef),
					TxId:       &[]common.Max35Text{common.Max35Text(exp.transfer.ProviderRef)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(exp.payout.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(platformBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("HEFA Marketplace")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(exp.bank.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(creditorName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts an ISO 20022 document to an XML string
func ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
