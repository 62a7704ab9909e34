package server

// Request payloads

type AnimalRequest struct {
	Category     string  `json:"category" enum:"donate,adopt"`
	Name         string  `json:"name"`
	Gender       *string `json:"gender,omitempty"`
	Breed        *string `json:"breed,omitempty"`
	Age          *string `json:"age,omitempty"`
	Shelter      *string `json:"shelter,omitempty"`
	MedicalNeeds *string `json:"medical_needs,omitempty"`
	About        *string `json:"about,omitempty"`
	FBLink       *string `json:"fb_link,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	GoalAmount   *int64  `json:"goal_amount,omitempty"`
	RaisedAmount *int64  `json:"raised_amount,omitempty"`
}

type CheckoutRequest struct {
	Amount    int64   `json:"amount"`
	DonorName *string `json:"donor_name,omitempty"`
	Anonymous bool    `json:"anonymous,omitempty"`
}

type RecordPaidDonationRequest struct {
	Amount    int64   `json:"amount"`
	DonorName *string `json:"donor_name,omitempty"`
}

type AttachReceiptRequest struct {
	ReceiptURL string `json:"receipt_url"`
}

// paymongoEvent mirrors the slice of the gateway's webhook envelope the
// reconciler reads.
type paymongoEvent struct {
	Data struct {
		Attributes struct {
			Type string `json:"type"`
			Data struct {
				ID         string `json:"id"`
				Attributes struct {
					Payments []struct {
						ID string `json:"id"`
					} `json:"payments"`
				} `json:"attributes"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

type webhookAck struct {
	OK bool `json:"ok"`
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
